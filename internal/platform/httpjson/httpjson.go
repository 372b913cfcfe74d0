// Package httpjson reads and writes JSON request and response bodies.
package httpjson

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"kaldor-iiot/backend/internal/platform/apperr"
)

// MaxBodyBytes caps request bodies read by Decode.
const MaxBodyBytes = 64 << 10

// Write encodes v as the response body with status.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Decode reads one JSON value from r's body into v. Any failure is returned
// as a Malformed *apperr.Error.
func Decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperr.Wrap(apperr.Malformed, "request body too large", err)
		case errors.Is(err, io.EOF):
			return apperr.Wrap(apperr.Malformed, "request body is required", err)
		default:
			return apperr.Wrap(apperr.Malformed, "invalid JSON body", err)
		}
	}
	return nil
}
