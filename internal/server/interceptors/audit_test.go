package interceptors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/audit"
	"kaldor-iiot/backend/internal/identity/domain"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
	ips    []string
}

func (r *recordingAudit) LogEvent(ctx context.Context, ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.ips = append(r.ips, ClientIPFromContext(ctx))
}

func withIdentity(id domain.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func TestAudit_RecordsRoutePattern(t *testing.T) {
	rec := &recordingAudit{}
	r := chi.NewRouter()
	r.Use(RequestLog(zap.NewNop(), nil, mustProxies(t, "192.0.2.1", "172.16.0.0/12")))
	r.With(withIdentity(operator()), Audit(rec)).Post("/api/v1/entities/{id}/command", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/entities/loom-7/command", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.9, 172.16.0.1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if len(rec.events) != 1 {
		t.Fatalf("events = %d, want 1", len(rec.events))
	}
	ev := rec.events[0]
	if ev.SubjectID != "user-1" || ev.Action != "command" || ev.Resource != "entity" || ev.ResourceID != "loom-7" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Metadata != `{"status":202}` {
		t.Errorf("metadata = %q", ev.Metadata)
	}
	if rec.ips[0] != "10.0.0.9" {
		t.Errorf("ip = %q, want 10.0.0.9", rec.ips[0])
	}
}

func TestAudit_SkipsAnonymous(t *testing.T) {
	rec := &recordingAudit{}
	h := Audit(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/entities/x/latest", nil))
	if len(rec.events) != 0 {
		t.Errorf("events = %d, want 0", len(rec.events))
	}
}

func TestRequestLog_SkipStillRecordsIP(t *testing.T) {
	var ip string
	h := RequestLog(zap.NewNop(), map[string]bool{"/health": true}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = ClientIPFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)
	if ip != "127.0.0.1" {
		t.Errorf("ip = %q, want 127.0.0.1", ip)
	}
}
