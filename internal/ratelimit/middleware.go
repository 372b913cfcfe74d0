package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/apperr"
	"kaldor-iiot/backend/internal/server/interceptors"
)

// KeyFunc derives the limiter key for a request.
type KeyFunc func(r *http.Request) string

// ByAddress keys requests by the TCP peer address. Forwarding headers are
// ignored; use ByClientAddress behind a reverse proxy.
func ByAddress(r *http.Request) string {
	return "ip:" + interceptors.PeerIP(r)
}

// ByClientAddress keys requests by client address, reading forwarding
// headers only from the given proxies.
func ByClientAddress(proxies interceptors.TrustedProxies) KeyFunc {
	if len(proxies) == 0 {
		return ByAddress
	}
	return func(r *http.Request) string {
		return "ip:" + proxies.ClientIP(r)
	}
}

// BySubject keys requests by authenticated subject, falling back to
// fallback (ByAddress when nil) for anonymous requests. It must run after
// Authenticate.
func BySubject(fallback KeyFunc) KeyFunc {
	if fallback == nil {
		fallback = ByAddress
	}
	return func(r *http.Request) string {
		if sub, ok := interceptors.GetSubjectID(r.Context()); ok {
			return "sub:" + sub
		}
		return fallback(r)
	}
}

type middlewareOptions struct {
	key            KeyFunc
	skipSuccessful bool
	skipFailed     bool
	logger         *zap.Logger
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareOptions)

// WithKeyFunc replaces the default ByAddress key function.
func WithKeyFunc(f KeyFunc) MiddlewareOption {
	return func(o *middlewareOptions) { o.key = f }
}

// SkipSuccessful gives back requests that finish with status < 400.
func SkipSuccessful() MiddlewareOption {
	return func(o *middlewareOptions) { o.skipSuccessful = true }
}

// SkipFailed gives back requests that finish with status >= 400.
func SkipFailed() MiddlewareOption {
	return func(o *middlewareOptions) { o.skipFailed = true }
}

// WithLogger logs rejections at Info.
func WithLogger(l *zap.Logger) MiddlewareOption {
	return func(o *middlewareOptions) { o.logger = l }
}

// Middleware admits requests through l and sets X-RateLimit-* headers.
// Rejected requests get 429 with Retry-After and a JSON error body.
func (l *Limiter) Middleware(opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := middlewareOptions{key: ByAddress, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := o.key(r)
			d := l.Allow(key)
			setHeaders(w.Header(), d)
			if !d.Allowed {
				o.logger.Info("ratelimit: request rejected",
					zap.String("scope", l.scope),
					zap.String("key", key),
					zap.String("path", r.URL.Path),
					zap.Int("retry_after", d.RetryAfterSeconds),
				)
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
				e := apperr.New(apperr.RateLimited, "too many requests, please try again later")
				e.RetryAfterSeconds = d.RetryAfterSeconds
				apperr.WriteJSON(w, e)
				return
			}
			if !o.skipSuccessful && !o.skipFailed {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if (status < http.StatusBadRequest && o.skipSuccessful) || (status >= http.StatusBadRequest && o.skipFailed) {
				l.Release(key, d)
			}
		})
	}
}

func setHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetTime.Unix(), 10))
}
