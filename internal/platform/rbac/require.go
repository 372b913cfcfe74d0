// Package rbac enforces role and perimeter requirements on an authenticated identity.
package rbac

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/identity/domain"
	"kaldor-iiot/backend/internal/platform/apperr"
	"kaldor-iiot/backend/internal/server/interceptors"
)

// Requirement is the access rule for one route. A zero Requirement admits any
// authenticated identity.
type Requirement struct {
	// Roles, when non-empty, must intersect the identity's roles.
	Roles []string
	// MaxPerimeter, when positive, is the least trusted perimeter admitted.
	// Lower perimeters are more trusted, so identity.Perimeter must be <= MaxPerimeter.
	MaxPerimeter int
}

// Option sets one part of a Requirement.
type Option func(*Requirement)

// RequireRoles admits identities holding at least one of roles.
func RequireRoles(roles ...string) Option {
	return func(r *Requirement) { r.Roles = append(r.Roles, roles...) }
}

// RequirePerimeter admits identities with perimeter <= max.
func RequirePerimeter(max int) Option {
	return func(r *Requirement) { r.MaxPerimeter = max }
}

// NewRequirement builds a Requirement from opts.
func NewRequirement(opts ...Option) Requirement {
	var r Requirement
	for _, o := range opts {
		o(&r)
	}
	return r
}

// Authorize checks id against req. It returns an apperr.Forbidden error on
// failure; perimeter failures carry requiredPerimeter and actualPerimeter.
func Authorize(id domain.Identity, req Requirement) error {
	if len(req.Roles) > 0 && !id.HasAnyRole(req.Roles...) {
		e := apperr.New(apperr.Forbidden, "insufficient permissions")
		e.Fields = map[string]any{"requiredRoles": req.Roles}
		return e
	}
	if req.MaxPerimeter > 0 && !id.WithinPerimeter(req.MaxPerimeter) {
		e := apperr.New(apperr.Forbidden, fmt.Sprintf("perimeter %d or lower required", req.MaxPerimeter))
		e.Fields = map[string]any{
			"requiredPerimeter": req.MaxPerimeter,
			"actualPerimeter":   id.Perimeter,
		}
		return e
	}
	return nil
}

// RequireIdentity returns the identity from ctx or an apperr.Unauthenticated error.
func RequireIdentity(ctx context.Context) (domain.Identity, error) {
	id, ok := interceptors.GetIdentity(ctx)
	if !ok || id.SubjectID == "" {
		return domain.Identity{}, apperr.New(apperr.Unauthenticated, "missing or invalid authorization")
	}
	return id, nil
}

// Require returns middleware enforcing opts. It must run after
// interceptors.Authenticate; a request without an identity gets 401.
func Require(logger *zap.Logger, opts ...Option) func(http.Handler) http.Handler {
	req := NewRequirement(opts...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := RequireIdentity(r.Context())
			if err != nil {
				apperr.WriteJSON(w, err)
				return
			}
			if err := Authorize(id, req); err != nil {
				logger.Info("rbac: access denied",
					zap.String("subject_id", id.SubjectID),
					zap.String("roles", strings.Join(id.Roles, ",")),
					zap.Int("perimeter", id.Perimeter),
					zap.Int("required_perimeter", req.MaxPerimeter),
					zap.String("path", r.URL.Path),
				)
				apperr.WriteJSON(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
