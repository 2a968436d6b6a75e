package amocrm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

const testToken = "test-bearer-token"

// staticToken implements AccessTokenProvider.
type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

// writeJSON encodes v as JSON into w.
func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic("test helper writeJSON: " + err.Error())
	}
}

// fakeCRM is an in-memory stand-in for the amoCRM v4 contacts and leads API.
type fakeCRM struct {
	mu       sync.Mutex
	calls    []string
	byQuery  map[string]int64
	nextID   int64
	nextLead int64

	createdContacts [][]ContactPayload
	patches         map[int64]ContactPayload
	leads           [][]LeadPayload

	// failures maps "METHOD /path" to a status code to answer with.
	failures map[string]int
	// failBody is written with failure responses when set.
	failBody any
	// onSearch runs after every search, before the response is built.
	onSearch func(query string)
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		byQuery:  make(map[string]int64),
		nextID:   1000,
		nextLead: 5000,
		patches:  make(map[int64]ContactPayload),
		failures: make(map[string]int),
	}
}

// seed registers an existing contact searchable by phone and email.
func (f *fakeCRM) seed(id int64, email, phone string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if email != "" {
		f.byQuery[email] = id
	}
	if phone != "" {
		f.byQuery[phone] = id
	}
}

func (f *fakeCRM) forget(query string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byQuery, query)
}

// writes returns the non-GET calls in order.
func (f *fakeCRM) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if !strings.HasPrefix(c, http.MethodGet) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCRM) allCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCRM) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/hal+json")
		path := strings.TrimPrefix(r.URL.Path, "/api/v4")
		call := r.Method + " " + path
		if q := r.URL.Query().Get("query"); q != "" {
			call += "?query=" + q
		}

		f.mu.Lock()
		f.calls = append(f.calls, call)
		status, failing := f.failures[r.Method+" "+path]
		failBody := f.failBody
		f.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, APIErrorResponse{Title: "Unauthorized", Status: 401, Detail: "Invalid access token"})
			return
		}
		if failing {
			w.WriteHeader(status)
			if failBody != nil {
				writeJSON(w, failBody)
			}
			return
		}

		switch {
		case r.Method == http.MethodGet && path == "/contacts":
			query := r.URL.Query().Get("query")
			f.mu.Lock()
			hook := f.onSearch
			f.mu.Unlock()
			if hook != nil {
				hook(query)
			}
			f.mu.Lock()
			id, ok := f.byQuery[query]
			f.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			writeJSON(w, map[string]any{
				"_page": 1,
				"_embedded": map[string]any{
					"contacts": []map[string]any{{"id": id, "name": "Existing"}},
				},
			})

		case r.Method == http.MethodPost && path == "/contacts":
			var body []ContactPayload
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.createdContacts = append(f.createdContacts, body)
			f.nextID++
			id := f.nextID
			for _, cf := range body[0].CustomFieldsValues {
				for _, v := range cf.Values {
					f.byQuery[v.Value] = id
				}
			}
			f.mu.Unlock()
			writeJSON(w, map[string]any{
				"_links": map[string]any{},
				"_embedded": map[string]any{
					"contacts": []map[string]any{{"id": id, "request_id": "0"}},
				},
			})

		case r.Method == http.MethodPatch && strings.HasPrefix(path, "/contacts/"):
			id, _ := strconv.ParseInt(strings.TrimPrefix(path, "/contacts/"), 10, 64)
			var body ContactPayload
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.patches[id] = body
			f.mu.Unlock()
			writeJSON(w, map[string]any{"id": id, "name": body.Name, "updated_at": time.Now().Unix()})

		case r.Method == http.MethodPost && path == "/leads":
			var body []LeadPayload
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.leads = append(f.leads, body)
			f.nextLead++
			id := f.nextLead
			f.mu.Unlock()
			writeJSON(w, map[string]any{
				"_links": map[string]any{},
				"_embedded": map[string]any{
					"leads": []map[string]any{{"id": id, "request_id": "0"}},
				},
			})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// recordingPublisher implements EventPublisher.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	last   map[string]any
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	if p.last == nil {
		p.last = make(map[string]any)
	}
	p.last[eventType] = payload
	return p.err
}

// failingLocker implements Locker and always refuses.
type failingLocker struct{ err error }

func (l failingLocker) Acquire(context.Context, string) (func(), error) { return nil, l.err }

var testLeadSettings = LeadSettings{ResponsibleUserID: 111, PipelineID: 222, StatusID: 333}

// newTestService returns a Service wired to a fake amoCRM server.
func newTestService(t *testing.T, crm *fakeCRM, locker Locker, events EventPublisher) *Service {
	t.Helper()
	srv := httptest.NewServer(crm.handler())
	t.Cleanup(srv.Close)

	logger := zap.NewNop()
	client := NewClient(logger, srv.URL+"/api/v4/", staticToken(testToken), 5*time.Second, 0)
	return NewService(logger, client, testLeadSettings, locker, events)
}

func testInput() ContactInput {
	return ContactInput{Name: "Jane Roe", Email: "jane@example.com", Phone: "79001234567"}
}
