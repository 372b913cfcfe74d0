// Package handler serves the /api/v1/entities routes: latest telemetry,
// history, the audit trail and device-control publishing.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	auditdomain "kaldor-iiot/backend/internal/audit/domain"
	"kaldor-iiot/backend/internal/platform/apperr"
	"kaldor-iiot/backend/internal/platform/httpjson"
	"kaldor-iiot/backend/internal/platform/logging"
	"kaldor-iiot/backend/internal/platform/rbac"
	"kaldor-iiot/backend/internal/policy/engine"
	"kaldor-iiot/backend/internal/telemetry/domain"
	"kaldor-iiot/backend/internal/telemetry/ingest"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// TelemetryReader reads stored telemetry.
type TelemetryReader interface {
	Snapshot(ctx context.Context, entityID string) (map[domain.Kind]*domain.Event, error)
	History(ctx context.Context, entityID string, limit int) ([]*domain.Event, error)
}

// ControlPublisher sends control messages to entities.
type ControlPublisher interface {
	PublishControl(ctx context.Context, entityID string, kind ingest.ControlKind, body any) error
}

// AuditReader lists audit entries for a resource.
type AuditReader interface {
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]*auditdomain.AuditLog, error)
}

// Handler serves entity routes. Any dependency may be nil; the routes that
// need it then answer 503.
type Handler struct {
	telemetry TelemetryReader
	publisher ControlPublisher
	policy    engine.Evaluator
	audit     AuditReader
	log       *zap.Logger
	now       func() time.Time
}

// NewHandler returns a Handler.
func NewHandler(telemetry TelemetryReader, publisher ControlPublisher, policy engine.Evaluator, audit AuditReader, log *zap.Logger) *Handler {
	return &Handler{
		telemetry: telemetry,
		publisher: publisher,
		policy:    policy,
		audit:     audit,
		log:       logging.OrNop(log),
		now:       time.Now,
	}
}

type latestResponse struct {
	EntityID string                        `json:"entityId"`
	Latest   map[domain.Kind]*domain.Event `json:"latest"`
}

// Latest handles GET /api/v1/entities/{id}/latest.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	if h.telemetry == nil {
		apperr.WriteJSON(w, apperr.New(apperr.TransportUnavailable, "telemetry store unavailable"))
		return
	}
	snap, err := h.telemetry.Snapshot(r.Context(), id)
	if err != nil {
		h.log.Error("entity: latest lookup failed", zap.String("entity_id", id), zap.Error(err))
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "latest lookup failed", err))
		return
	}
	if len(snap) == 0 {
		apperr.WriteJSON(w, apperr.New(apperr.NotFound, "no telemetry for entity"))
		return
	}
	httpjson.Write(w, http.StatusOK, latestResponse{EntityID: id, Latest: snap})
}

// History handles GET /api/v1/entities/{id}/history?limit=N.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if h.telemetry == nil {
		apperr.WriteJSON(w, apperr.New(apperr.TransportUnavailable, "telemetry store unavailable"))
		return
	}
	events, err := h.telemetry.History(r.Context(), id, limit)
	if err != nil {
		h.log.Error("entity: history lookup failed", zap.String("entity_id", id), zap.Error(err))
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "history lookup failed", err))
		return
	}
	if events == nil {
		events = []*domain.Event{}
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"entityId": id, "events": events})
}

type auditEntry struct {
	ID        string          `json:"id"`
	SubjectID string          `json:"subjectId"`
	Action    string          `json:"action"`
	IP        string          `json:"ip"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// AuditTrail handles GET /api/v1/entities/{id}/audit?limit=N.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if h.audit == nil {
		apperr.WriteJSON(w, apperr.New(apperr.TransportUnavailable, "audit store unavailable"))
		return
	}
	logs, err := h.audit.ListByResource(r.Context(), "entity", id, limit)
	if err != nil {
		h.log.Error("entity: audit lookup failed", zap.String("entity_id", id), zap.Error(err))
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "audit lookup failed", err))
		return
	}
	out := make([]auditEntry, 0, len(logs))
	for _, l := range logs {
		e := auditEntry{ID: l.ID, SubjectID: l.SubjectID, Action: l.Action, IP: l.IP, CreatedAt: l.CreatedAt}
		if json.Valid([]byte(l.Metadata)) {
			e.Metadata = json.RawMessage(l.Metadata)
		}
		out = append(out, e)
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"entityId": id, "entries": out})
}

type commandRequest struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type configRequest struct {
	Config json.RawMessage `json:"config"`
}

type otaRequest struct {
	URL      string `json:"url"`
	Version  string `json:"version,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

// Command handles POST /api/v1/entities/{id}/command.
func (h *Handler) Command(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	h.control(w, r, ingest.ControlCommand, &req, func(issuedBy string, ts int64) (any, error) {
		if req.Command == "" {
			return nil, apperr.New(apperr.Malformed, "command is required")
		}
		return map[string]any{"command": req.Command, "params": rawOrNull(req.Params), "issuedBy": issuedBy, "timestamp": ts}, nil
	})
}

// Config handles POST /api/v1/entities/{id}/config.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	h.control(w, r, ingest.ControlConfig, &req, func(issuedBy string, ts int64) (any, error) {
		var obj map[string]json.RawMessage
		if len(req.Config) == 0 || json.Unmarshal(req.Config, &obj) != nil || obj == nil {
			return nil, apperr.New(apperr.Malformed, "config must be a JSON object")
		}
		return map[string]any{"config": req.Config, "issuedBy": issuedBy, "timestamp": ts}, nil
	})
}

// OTA handles POST /api/v1/entities/{id}/ota.
func (h *Handler) OTA(w http.ResponseWriter, r *http.Request) {
	var req otaRequest
	h.control(w, r, ingest.ControlOTA, &req, func(issuedBy string, ts int64) (any, error) {
		u, err := url.Parse(req.URL)
		if req.URL == "" || err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return nil, apperr.New(apperr.Malformed, "url must be an absolute http(s) URL")
		}
		msg := map[string]any{"url": req.URL, "issuedBy": issuedBy, "timestamp": ts}
		if req.Version != "" {
			msg["version"] = req.Version
		}
		if req.Checksum != "" {
			msg["checksum"] = req.Checksum
		}
		return msg, nil
	})
}

// control decodes into req, builds the message, checks the device-control
// policy and publishes. Route guards have already run.
func (h *Handler) control(w http.ResponseWriter, r *http.Request, kind ingest.ControlKind, req any, build func(issuedBy string, ts int64) (any, error)) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	subject, err := rbac.RequireIdentity(r.Context())
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if err := httpjson.Decode(w, r, req); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	msg, err := build(subject.SubjectID, h.now().UnixMilli())
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	if h.policy != nil {
		d, err := h.policy.EvaluateControl(r.Context(), engine.ControlRequest{Subject: subject, Action: string(kind), EntityID: id})
		if err != nil {
			apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "policy evaluation failed", err))
			return
		}
		if !d.Allow {
			h.log.Info("entity: control denied by policy",
				zap.String("entity_id", id),
				zap.String("action", string(kind)),
				zap.String("subject_id", subject.SubjectID),
				zap.String("reason", d.Reason),
			)
			e := apperr.New(apperr.Forbidden, "denied by policy")
			e.Fields = map[string]any{"reason": d.Reason}
			apperr.WriteJSON(w, e)
			return
		}
	}

	if h.publisher == nil {
		apperr.WriteJSON(w, apperr.New(apperr.TransportUnavailable, "broker not connected"))
		return
	}
	if err := h.publisher.PublishControl(r.Context(), id, kind, msg); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	httpjson.Write(w, http.StatusAccepted, map[string]any{
		"success":  true,
		"entityId": id,
		"kind":     string(kind),
	})
}

func entityID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !ingest.ValidEntityID(id) || len(id) > 128 {
		apperr.WriteJSON(w, apperr.New(apperr.Malformed, "invalid entity id"))
		return "", false
	}
	return id, true
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, apperr.New(apperr.Malformed, "limit must be a positive integer")
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}

func rawOrNull(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return b
}
