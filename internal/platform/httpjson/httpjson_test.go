package httpjson

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kaldor-iiot/backend/internal/platform/apperr"
)

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, http.StatusCreated, map[string]string{"status": "ok"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || got["status"] != "ok" {
		t.Errorf("body = %s, %v", rec.Body.String(), err)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"username":"admin"}`, ""},
		{"empty", ``, "request body is required"},
		{"syntax", `{"username":`, "invalid JSON body"},
		{"too large", `{"username":"` + strings.Repeat("a", MaxBodyBytes) + `"}`, "request body too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var v struct{ Username string }
			err := Decode(httptest.NewRecorder(), req, &v)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				if v.Username != "admin" {
					t.Errorf("Username = %q", v.Username)
				}
				return
			}
			if !apperr.Is(err, apperr.Malformed) {
				t.Fatalf("err = %v, want Malformed", err)
			}
			var ae *apperr.Error
			_ = errors.As(err, &ae)
			if ae.Message != tt.wantErr {
				t.Errorf("message = %q, want %q", ae.Message, tt.wantErr)
			}
		})
	}
}
