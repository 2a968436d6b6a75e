package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/amocrm-adapter/internal/httpclient"
)

// AccessTokenProvider supplies the bearer token for outbound calls.
type AccessTokenProvider interface {
	AccessToken() string
}

// Client wraps low-level HTTP communication with the amoCRM v4 REST API.
type Client struct {
	logger  *zap.Logger
	exec    *httpclient.Executor
	baseURL string
	tokens  AccessTokenProvider
}

// NewClient constructs a new amoCRM HTTP client. baseURL is the API root,
// e.g. https://example.amocrm.ru/api/v4.
func NewClient(logger *zap.Logger, baseURL string, tokens AccessTokenProvider, timeout time.Duration, retryMax int) *Client {
	httpClient := &http.Client{Timeout: timeout}
	exec := httpclient.New(logger, httpClient, retryMax, "amocrm", func(status int, body []byte) error {
		var errResp APIErrorResponse
		_ = json.Unmarshal(body, &errResp)

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("title", errResp.Title),
			zap.String("detail", errResp.Detail),
		}
		for _, ve := range errResp.ValidationErrors {
			fields = append(fields, zap.Any("validation_errors", ve.Errors))
		}
		logger.Warn("amocrm.client_error", fields...)

		return &APIError{
			Status:           status,
			Title:            errResp.Title,
			Detail:           errResp.Detail,
			ValidationErrors: errResp.ValidationErrors,
		}
	})
	return &Client{
		logger:  logger,
		exec:    exec,
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
	}
}

// SearchContacts runs a full-text contact search.
// GET /contacts?query={query}
// A search with no matches yields a nil body and an empty page.
func (c *Client) SearchContacts(ctx context.Context, query string) (json.RawMessage, *ContactsResponse, error) {
	q := url.Values{"query": {query}}
	raw, err := c.do(ctx, http.MethodGet, "/contacts?"+q.Encode(), "contacts.search", nil)
	if err != nil {
		return nil, nil, err
	}
	page, err := decodeContacts(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, page, nil
}

// CreateContacts creates contacts in one batch.
// POST /contacts
func (c *Client) CreateContacts(ctx context.Context, contacts []ContactPayload) (json.RawMessage, *ContactsResponse, error) {
	raw, err := c.do(ctx, http.MethodPost, "/contacts", "contacts.create", contacts)
	if err != nil {
		return nil, nil, err
	}
	page, err := decodeContacts(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, page, nil
}

// UpdateContact patches a single contact.
// PATCH /contacts/{id}
func (c *Client) UpdateContact(ctx context.Context, id int64, contact ContactPayload) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPatch, "/contacts/"+strconv.FormatInt(id, 10), "contacts.update", contact)
}

// CreateLeads creates leads in one batch.
// POST /leads
func (c *Client) CreateLeads(ctx context.Context, leads []LeadPayload) (json.RawMessage, *LeadsResponse, error) {
	raw, err := c.do(ctx, http.MethodPost, "/leads", "leads.create", leads)
	if err != nil {
		return nil, nil, err
	}
	var page LeadsResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, nil, fmt.Errorf("decode leads response: %w", err)
		}
	}
	return raw, &page, nil
}

// do performs an authenticated request and returns the response body verbatim.
func (c *Client) do(ctx context.Context, method, path, endpoint string, body any) (json.RawMessage, error) {
	token := c.tokens.AccessToken()
	if token == "" {
		return nil, ErrNoAccessToken
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		if bodyBytes, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	setHeaders(req, token)

	var raw json.RawMessage
	if err := c.exec.DoJSON(ctx, req, endpoint, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func decodeContacts(raw json.RawMessage) (*ContactsResponse, error) {
	var page ContactsResponse
	if len(raw) == 0 {
		return &page, nil
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode contacts response: %w", err)
	}
	return &page, nil
}

// setHeaders sets required headers for amoCRM API requests.
func setHeaders(req *http.Request, bearerToken string) {
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}
