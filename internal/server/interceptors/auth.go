package interceptors

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/identity/domain"
	"kaldor-iiot/backend/internal/platform/apperr"
)

const bearerPrefix = "bearer "

// TokenVerifier verifies a session token and returns the embedded identity.
type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// Authenticate returns middleware that requires a valid Bearer token and stores
// the verified identity in the request context. Missing, invalid and expired
// tokens all produce the same 401 body; the reason is only logged.
func Authenticate(tokens TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := VerifyBearer(tokens, ExtractBearer(r))
			if err != nil {
				logger.Debug("auth: rejected request",
					zap.String("path", r.URL.Path),
					zap.String("client_ip", ClientIP(r)),
					zap.Error(err),
				)
				apperr.WriteJSON(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// VerifyBearer verifies a raw token. An empty token or any verification
// failure is returned as an apperr.Unauthenticated error wrapping the cause.
func VerifyBearer(tokens TokenVerifier, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, apperr.New(apperr.Unauthenticated, "missing or invalid authorization")
	}
	id, err := tokens.Verify(token)
	if err != nil {
		return domain.Identity{}, apperr.Wrap(apperr.Unauthenticated, "missing or invalid authorization", err)
	}
	return id, nil
}

// ExtractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func ExtractBearer(r *http.Request) string {
	return parseBearer(r.Header.Get("Authorization"))
}

func parseBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
