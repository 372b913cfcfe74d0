package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeTransport struct {
	state  string
	failed bool
}

func (f fakeTransport) StateName() string { return f.state }
func (f fakeTransport) Failed() bool      { return f.failed }

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func serve(t *testing.T, h *Handler) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, resp
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		deps       Deps
		wantCode   int
		wantStatus string
		wantSvc    map[string]string
	}{
		{
			name:       "all up",
			deps:       Deps{Database: ok, Redis: ok, Policy: ok, MQTT: fakeTransport{state: "connected"}},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantSvc:    map[string]string{"database": "connected", "redis": "connected", "policy": "ok", "mqtt": "connected"},
		},
		{
			name:       "nothing configured",
			deps:       Deps{},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantSvc:    map[string]string{"database": "not_configured", "redis": "not_configured", "policy": "not_configured", "mqtt": "not_configured"},
		},
		{
			name:       "redis down is degraded",
			deps:       Deps{Database: ok, Redis: down, MQTT: fakeTransport{state: "connected"}},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantSvc:    map[string]string{"redis": "disconnected"},
		},
		{
			name:       "mqtt reconnecting is degraded",
			deps:       Deps{Database: ok, MQTT: fakeTransport{state: "reconnecting"}},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantSvc:    map[string]string{"mqtt": "reconnecting"},
		},
		{
			name:       "mqtt failed",
			deps:       Deps{Database: ok, MQTT: fakeTransport{state: "disconnected", failed: true}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantSvc:    map[string]string{"mqtt": "failed"},
		},
		{
			name:       "database down",
			deps:       Deps{Database: down, MQTT: fakeTransport{state: "connected"}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantSvc:    map[string]string{"database": "disconnected"},
		},
		{
			name:       "policy broken",
			deps:       Deps{Policy: down},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantSvc:    map[string]string{"policy": "failed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := serve(t, NewHandler(tt.deps, nil))
			if code != tt.wantCode || resp.Status != tt.wantStatus {
				t.Errorf("got %d %q, want %d %q", code, resp.Status, tt.wantCode, tt.wantStatus)
			}
			for k, v := range tt.wantSvc {
				if resp.Services[k] != v {
					t.Errorf("services[%s] = %q, want %q", k, resp.Services[k], v)
				}
			}
		})
	}
}

func TestHealth_Uptime(t *testing.T) {
	h := NewHandler(Deps{}, nil)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	h.started = start
	h.now = func() time.Time { return start.Add(90 * time.Second) }

	_, resp := serve(t, h)
	if resp.Uptime != 90 {
		t.Errorf("uptime = %v, want 90", resp.Uptime)
	}
	if !resp.Timestamp.Equal(start.Add(90 * time.Second)) {
		t.Errorf("timestamp = %v", resp.Timestamp)
	}
}
