package amocrm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AlreadyExistsMessage is reported when CreateContact finds a matching contact.
const AlreadyExistsMessage = "Error creating contact: This contact already exists"

// ErrNoAccessToken is returned before any request is sent when the token store holds no token.
var ErrNoAccessToken = errors.New("amocrm access token is not available")

// ErrorKind classifies failures so the HTTP layer can map them to status codes.
type ErrorKind string

const (
	// KindAuthorization: no token, or amoCRM rejected the token (401/403).
	KindAuthorization ErrorKind = "authorization"
	// KindRejected: amoCRM rejected the request itself (other 4xx).
	KindRejected ErrorKind = "rejected"
	// KindTransport: network failure, 5xx, or an unreadable response.
	KindTransport ErrorKind = "transport"
	// KindConflict: another request holds the lock for the same contact.
	KindConflict ErrorKind = "conflict"
)

// Error is returned by every Service operation. Its message keeps the
// "Error <op>: <cause>" form callers of the adapter already parse.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("Error %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// APIError is a non-2xx, non-5xx answer from amoCRM.
type APIError struct {
	Status           int
	Title            string
	Detail           string
	ValidationErrors []ValidationError
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("amocrm returned %d", e.Status)
	if e.Title != "" {
		msg += ": " + e.Title
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if fields := e.fieldErrors(); fields != "" {
		msg += " (" + fields + ")"
	}
	return msg
}

func (e *APIError) fieldErrors() string {
	var parts []string
	for _, ve := range e.ValidationErrors {
		for _, fe := range ve.Errors {
			parts = append(parts, fe.Path+": "+fe.Detail)
		}
	}
	return strings.Join(parts, "; ")
}

// wrap attaches op and a kind to err. Errors that already carry a kind are
// returned unchanged so the innermost operation names the failure.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	return &Error{Kind: kindOf(err), Op: op, Err: err}
}

func kindOf(err error) ErrorKind {
	if errors.Is(err, ErrNoAccessToken) {
		return KindAuthorization
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden {
			return KindAuthorization
		}
		return KindRejected
	}
	return KindTransport
}

// KindOf reports the kind of a Service error, defaulting to KindTransport.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return kindOf(err)
}
