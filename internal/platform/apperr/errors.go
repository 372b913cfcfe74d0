// Package apperr defines the error taxonomy shared by the HTTP, WebSocket and
// ingestion surfaces, and renders it as user-safe JSON.
package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

type (
	// Error is a classified error. Message is safe to show to clients; Nested
	// and Fields are for logs only.
	Error struct {
		Kind    Kind
		Message string
		Nested  error
		Fields  map[string]any

		// RetryAfterSeconds is set on RateLimited errors.
		RetryAfterSeconds int
	}

	// Kind classifies an Error.
	Kind int
)

const (
	Internal Kind = iota
	Unauthenticated
	Forbidden
	RateLimited
	Malformed
	TransportUnavailable
	HandlerFailure
	NotFound
)

var kindNames = [...]string{
	Internal:             "internal",
	Unauthenticated:      "unauthenticated",
	Forbidden:            "forbidden",
	RateLimited:          "rate_limited",
	Malformed:            "malformed",
	TransportUnavailable: "transport_unavailable",
	HandlerFailure:       "handler_failure",
	NotFound:             "not_found",
}

func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

func (e *Error) Error() string {
	if e.Nested != nil {
		return e.Message + ": " + e.Nested.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Nested
}

// New returns an Error of kind k with a user-safe message.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

// Wrap returns an Error of kind k that keeps err for logging.
func Wrap(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Message: msg, Nested: err}
}

// KindOf returns the Kind of err, or Internal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// HTTPStatus maps a Kind to the response status code.
func HTTPStatus(k Kind) int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	case Malformed:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case TransportUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type body struct {
	Error struct {
		Kind       string         `json:"kind"`
		Message    string         `json:"message"`
		RetryAfter int            `json:"retryAfter,omitempty"`
		Details    map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// WriteJSON writes err as a JSON error body. Errors that are not *Error are
// reported as a generic internal error so no internal detail leaks.
func WriteJSON(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = New(Internal, "internal error")
	}
	var b body
	b.Error.Kind = e.Kind.String()
	b.Error.Message = e.Message
	b.Error.RetryAfter = e.RetryAfterSeconds
	if e.Kind == Forbidden {
		b.Error.Details = e.Fields
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(e.Kind))
	_ = json.NewEncoder(w).Encode(b)
}
