package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/audit"
	"kaldor-iiot/backend/internal/identity/service"
	"kaldor-iiot/backend/internal/platform/apperr"
	"kaldor-iiot/backend/internal/platform/httpjson"
	"kaldor-iiot/backend/internal/platform/logging"
	"kaldor-iiot/backend/internal/platform/rbac"
	"kaldor-iiot/backend/internal/server/interceptors"
)

// AuthService is the subset of service.AuthService used by the handler.
type AuthService interface {
	Login(ctx context.Context, username, password, ip string) (*service.LoginResult, error)
	Logout(ctx context.Context, userID string) error
}

// Handler serves the /api/v1/auth routes.
type Handler struct {
	svc   AuthService
	audit audit.AuditLogger
	log   *zap.Logger
}

// NewHandler returns a Handler. auditLogger may be nil.
func NewHandler(svc AuthService, auditLogger audit.AuditLogger, log *zap.Logger) *Handler {
	return &Handler{svc: svc, audit: auditLogger, log: logging.OrNop(log)}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
	Perimeter int      `json:"perimeter"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      userResponse `json:"user"`
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		apperr.WriteJSON(w, apperr.New(apperr.Malformed, "username and password are required"))
		return
	}
	res, err := h.svc.Login(r.Context(), req.Username, req.Password, interceptors.ClientIPFromContext(r.Context()))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			h.log.Info("auth: login failed", zap.String("username", req.Username))
			apperr.WriteJSON(w, apperr.Wrap(apperr.Unauthenticated, "invalid credentials", err))
			return
		}
		h.log.Error("auth: login error", zap.Error(err))
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "login failed", err))
		return
	}
	if h.audit != nil {
		h.audit.LogEvent(r.Context(), audit.Event{
			SubjectID:  res.Identity.SubjectID,
			Action:     "login",
			Resource:   "user",
			ResourceID: res.Identity.SubjectID,
		})
	}
	h.log.Info("auth: user logged in", zap.String("user_id", res.Identity.SubjectID))
	httpjson.Write(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		User: userResponse{
			ID:        res.Identity.SubjectID,
			Username:  res.Identity.DisplayName,
			Roles:     res.Identity.Roles,
			Perimeter: res.Identity.Perimeter,
		},
	})
}

// Logout handles POST /api/v1/auth/logout. The bearer token itself is not revoked.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id, err := rbac.RequireIdentity(r.Context())
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if err := h.svc.Logout(r.Context(), id.SubjectID); err != nil {
		h.log.Warn("auth: logout failed", zap.String("user_id", id.SubjectID), zap.Error(err))
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"success": true})
}

// Me handles GET /api/v1/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, err := rbac.RequireIdentity(r.Context())
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"user": id})
}
