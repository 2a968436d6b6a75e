package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/amocrm-adapter/internal/metrics"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Executor runs HTTP requests against a single upstream and JSON-decodes the responses.
// With retryMax 0 every request is attempted exactly once. Only idempotent
// methods are retried; a POST is always attempted once.
type Executor struct {
	logger       *zap.Logger
	http         *http.Client
	retryMax     int
	venueTag     string
	errorHandler func(status int, body []byte) error
}

// New creates an Executor. errorHandler is called on 4xx failure responses to produce an
// upstream-specific error. If nil, a default error is returned.
func New(
	logger *zap.Logger,
	httpClient *http.Client,
	retryMax int,
	venueTag string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	if retryMax < 0 {
		retryMax = 0
	}
	return &Executor{
		logger:       logger,
		http:         httpClient,
		retryMax:     retryMax,
		venueTag:     venueTag,
		errorHandler: errorHandler,
	}
}

// DoJSON executes req, then JSON-decodes the response into out.
// endpoint is a low-cardinality label ("contacts.search") for metrics.
// Empty bodies (amoCRM answers 204 to searches with no match) leave out untouched.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, endpoint string, out any) error {
	retryMax := e.retryMax
	if !retryable(req.Method) {
		retryMax = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(Backoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return fmt.Errorf("rewind request body: %w", err)
				}
				req.Body = body
			}
		}

		start := time.Now()
		resp, err := e.http.Do(req)
		if err != nil {
			lastErr = err
			metrics.IncAmoCRMRequest(endpoint, req.Method, "transport_error")
			e.logger.Warn(e.venueTag+".http_failed",
				zap.String("endpoint", endpoint),
				zap.String("method", req.Method),
				zap.Error(err),
				zap.Int("attempt", attempt))
			if ctx.Err() != nil {
				return err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		elapsed := time.Since(start)
		metrics.ObserveDuration(metrics.AmoCRMRequestDuration, start, endpoint, req.Method)
		metrics.IncAmoCRMRequest(endpoint, req.Method, strconv.Itoa(resp.StatusCode))

		if readErr != nil {
			lastErr = fmt.Errorf("read response body: %w", readErr)
			continue
		}

		if resp.StatusCode >= 500 {
			e.logger.Warn(e.venueTag+".server_error",
				zap.Int("status", resp.StatusCode),
				zap.String("endpoint", endpoint),
				zap.Duration("latency", elapsed))
			lastErr = fmt.Errorf("%s server error: %d", e.venueTag, resp.StatusCode)
			continue
		}

		if resp.StatusCode >= 400 {
			if e.errorHandler != nil {
				return e.errorHandler(resp.StatusCode, body)
			}
			return fmt.Errorf("%s returned %d", e.venueTag, resp.StatusCode)
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				e.logger.Warn(e.venueTag+".decode_failed",
					zap.Error(err),
					zap.String("endpoint", endpoint),
					zap.Int("body_len", len(body)))
				return fmt.Errorf("decode failed: %w", err)
			}
		}

		e.logger.Debug(e.venueTag+".http_success",
			zap.String("endpoint", endpoint),
			zap.String("method", req.Method),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))

		return nil
	}

	if retryMax == 0 {
		return lastErr
	}
	return fmt.Errorf("%s request failed after %d attempts: %w", e.venueTag, retryMax+1, lastErr)
}

// retryable reports whether a failed request with this method may be re-sent.
// PATCH to /contacts/{id} sets the same fields again, so it is safe to repeat.
func retryable(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}
