package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/httpjson"
	"kaldor-iiot/backend/internal/platform/logging"
)

const checkTimeout = 2 * time.Second

// Service states reported in the health body.
const (
	StatusConnected     = "connected"
	StatusDisconnected  = "disconnected"
	StatusNotConfigured = "not_configured"
	StatusFailed        = "failed"
	StatusOK            = "ok"
)

// Checker reports nil when a dependency is reachable.
type Checker func(ctx context.Context) error

// TransportStatus reports the broker connection state and whether reconnection gave up.
type TransportStatus interface {
	StateName() string
	Failed() bool
}

// Deps are the dependencies probed by the health endpoint. Nil checkers are
// reported as not_configured.
type Deps struct {
	Database Checker
	Redis    Checker
	Policy   Checker
	MQTT     TransportStatus
}

// Response is the /health body.
type Response struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    float64           `json:"uptime"`
	Services  map[string]string `json:"services"`
}

// Handler serves GET /health. It answers 503 when the database is down or the
// broker connection has failed for good; other failures only mark the body
// degraded.
type Handler struct {
	deps    Deps
	started time.Time
	log     *zap.Logger
	now     func() time.Time
}

// NewHandler returns a Handler that measures uptime from now.
func NewHandler(deps Deps, log *zap.Logger) *Handler {
	return &Handler{deps: deps, started: time.Now(), log: logging.OrNop(log), now: time.Now}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	services := map[string]string{
		"database": h.probe(ctx, "database", h.deps.Database),
		"redis":    h.probe(ctx, "redis", h.deps.Redis),
		"policy":   h.probe(ctx, "policy", h.deps.Policy),
		"mqtt":     StatusNotConfigured,
	}
	mqttFailed := false
	if h.deps.MQTT != nil {
		mqttFailed = h.deps.MQTT.Failed()
		if mqttFailed {
			services["mqtt"] = StatusFailed
		} else {
			services["mqtt"] = h.deps.MQTT.StateName()
		}
	}

	status, code := "healthy", http.StatusOK
	for _, s := range services {
		if s != StatusConnected && s != StatusOK && s != StatusNotConfigured {
			status = "degraded"
		}
	}
	if mqttFailed || services["database"] == StatusDisconnected {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	now := h.now()
	httpjson.Write(w, code, Response{
		Status:    status,
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.started).Seconds(),
		Services:  services,
	})
}

func (h *Handler) probe(ctx context.Context, name string, check Checker) string {
	if check == nil {
		return StatusNotConfigured
	}
	if err := check(ctx); err != nil {
		h.log.Warn("health: check failed", zap.String("service", name), zap.Error(err))
		if name == "policy" {
			return StatusFailed
		}
		return StatusDisconnected
	}
	if name == "policy" {
		return StatusOK
	}
	return StatusConnected
}
