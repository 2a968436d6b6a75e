package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Checker-Finance/amocrm-adapter/internal/metrics"
	"github.com/Checker-Finance/amocrm-adapter/pkg/utils"
)

// TokenState is the lifecycle state of a TokenStore.
type TokenState string

const (
	StateUninitialized TokenState = "uninitialized"
	StateReady         TokenState = "ready"
	StateFailed        TokenState = "failed"
)

const tokenPath = "/oauth2/access_token"

// TokenStore owns the amoCRM access token. The token is loaded once from a
// local file (or obtained through the authorization-code grant when the file
// does not exist) and afterwards only changes through an explicit Refresh.
// Expiry is not tracked.
type TokenStore struct {
	logger *zap.Logger
	path   string
	code   string
	oauth  *oauth2.Config
	client *http.Client
	// raw holds the body of the last successful token response.
	raw *bodyRecorder

	refreshMu sync.Mutex

	mu      sync.RWMutex
	token   *oauth2.Token
	state   TokenState
	lastErr error
}

// NewTokenStore creates a TokenStore persisting to path. authBaseURL overrides
// https://{subdomain}.amocrm.ru when non-empty.
func NewTokenStore(logger *zap.Logger, creds Credentials, authBaseURL, path string) *TokenStore {
	base := authBaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.amocrm.ru", creds.Subdomain)
	}
	raw := &bodyRecorder{next: http.DefaultTransport}
	return &TokenStore{
		logger: logger,
		path:   path,
		code:   creds.AuthorizationCode,
		oauth: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURI,
			Endpoint: oauth2.Endpoint{
				TokenURL:  strings.TrimRight(base, "/") + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: &http.Client{Timeout: 10 * time.Second, Transport: raw},
		raw:    raw,
		state:  StateUninitialized,
	}
}

// Load reads the persisted token. A missing file triggers the one-time
// authorization-code exchange and persists its result. Any other read or
// parse failure leaves the store Failed without contacting amoCRM.
func (s *TokenStore) Load(ctx context.Context) error {
	tok, err := readTokenFile(s.path)
	switch {
	case err == nil:
		s.setReady(tok)
		metrics.IncTokenEvent("load", "ok")
		s.logger.Info("amocrm.token.loaded",
			zap.String("path", s.path),
			zap.String("access_token", utils.MaskSecret(tok.AccessToken)))
		return nil

	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("amocrm.token.file_missing", zap.String("path", s.path))
		s.refreshMu.Lock()
		defer s.refreshMu.Unlock()
		tok, err := s.exchange(ctx)
		if err != nil {
			metrics.IncTokenEvent("exchange", "error")
			s.setFailed(err)
			s.logger.Error("amocrm.token.authorize_failed", zap.Error(err))
			return &Error{Kind: KindAuthorization, Op: "authorizing with AmoCRM", Err: err}
		}
		metrics.IncTokenEvent("exchange", "ok")
		s.setReady(tok)
		s.persist(tok)
		return nil

	default:
		metrics.IncTokenEvent("load", "error")
		s.setFailed(err)
		s.logger.Error("amocrm.token.load_failed",
			zap.String("path", s.path),
			zap.Error(err))
		return fmt.Errorf("Error loading the token: %w", err)
	}
}

// Refresh replaces the token. It uses the stored refresh token when there is
// one and falls back to the authorization-code grant otherwise. On failure the
// previous token is kept.
func (s *TokenStore) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.RLock()
	var refreshToken string
	if s.token != nil {
		refreshToken = s.token.RefreshToken
	}
	s.mu.RUnlock()

	var (
		tok *oauth2.Token
		err error
	)
	if refreshToken != "" {
		src := s.oauth.TokenSource(s.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
		tok, err = src.Token()
	} else {
		tok, err = s.exchange(ctx)
	}
	if err != nil {
		metrics.IncTokenEvent("refresh", "error")
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Error("amocrm.token.refresh_failed",
			zap.Bool("used_refresh_token", refreshToken != ""),
			zap.Error(err))
		return &Error{Kind: KindAuthorization, Op: "refreshing AmoCRM token", Err: err}
	}

	metrics.IncTokenEvent("refresh", "ok")
	s.setReady(tok)
	s.persist(tok)
	s.logger.Info("amocrm.token.refreshed",
		zap.String("access_token", utils.MaskSecret(tok.AccessToken)),
		zap.Time("expiry", tok.Expiry))
	return nil
}

// AccessToken returns the current bearer token, or "" when none is held.
func (s *TokenStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

// State returns the lifecycle state and the last error, if any.
func (s *TokenStore) State() (TokenState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.lastErr
}

func (s *TokenStore) exchange(ctx context.Context) (*oauth2.Token, error) {
	if s.code == "" {
		return nil, errors.New("authorization code is not configured")
	}
	tok, err := s.oauth.Exchange(s.clientContext(ctx), s.code)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token endpoint returned empty access_token")
	}
	return tok, nil
}

func (s *TokenStore) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.client)
}

func (s *TokenStore) setReady(tok *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tok
	s.state = StateReady
	s.lastErr = nil
}

func (s *TokenStore) setFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	s.lastErr = err
}

// persist writes the token file. A write failure is logged only: the token
// is still usable for the lifetime of the process. Callers hold refreshMu.
func (s *TokenStore) persist(tok *oauth2.Token) {
	data, err := tokenDocument(s.raw.take(), tok)
	if err == nil {
		err = writeTokenFile(s.path, data)
	}
	if err != nil {
		s.logger.Error("amocrm.token.persist_failed",
			zap.String("path", s.path),
			zap.Error(err))
		return
	}
	s.logger.Info("amocrm.token.persisted", zap.String("path", s.path))
}

// tokenDocument returns the token endpoint response with every field amoCRM
// sent, plus the computed expiry. Token fields from tok take precedence so a
// refresh_token carried over by oauth2 is kept.
func tokenDocument(raw []byte, tok *oauth2.Token) ([]byte, error) {
	doc := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			doc = map[string]any{}
		}
	}
	doc["access_token"] = tok.AccessToken
	if tok.RefreshToken != "" {
		doc["refresh_token"] = tok.RefreshToken
	}
	if tok.TokenType != "" {
		doc["token_type"] = tok.TokenType
	}
	if !tok.Expiry.IsZero() {
		doc["expiry"] = tok.Expiry
	}
	return json.Marshal(doc)
}

func readTokenFile(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token file has no access_token")
	}
	return &tok, nil
}

// writeTokenFile replaces path atomically with data.
func writeTokenFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// maxTokenResponse caps how much of a token response is kept.
const maxTokenResponse = 1 << 20

// bodyRecorder keeps a copy of the last 2xx response body it transports.
type bodyRecorder struct {
	next http.RoundTripper

	mu   sync.Mutex
	last []byte
}

func (b *bodyRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := b.next.RoundTrip(req)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	b.mu.Lock()
	b.last = body
	b.mu.Unlock()
	return resp, nil
}

// take returns the recorded body and forgets it.
func (b *bodyRecorder) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	body := b.last
	b.last = nil
	return body
}
