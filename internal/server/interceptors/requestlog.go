package interceptors

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/logging"
)

var clientIPKey = contextKey{"client_ip"}

const tracerName = "kaldor-iiot/backend/http"

// RequestLog returns middleware that records the client IP (resolved through
// proxies) in context, wraps the request in a server span and writes one
// access log line when it ends. Paths in skip are served without logging or
// tracing (e.g. /health, /metrics).
func RequestLog(logger *zap.Logger, skip map[string]bool, proxies TrustedProxies) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	tracer := otel.Tracer(tracerName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := proxies.ClientIP(r)
			ctx := context.WithValue(r.Context(), clientIPKey, ip)
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			start := time.Now()
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
					attribute.String("client.address", ip),
				),
			)
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("client_ip", ip),
			}
			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("http request", fields...)
			case status >= http.StatusBadRequest:
				logger.Warn("http request", fields...)
			default:
				logger.Info("http request", fields...)
			}
		})
	}
}

// ClientIPFromContext returns the client IP recorded by RequestLog, or "" if unset.
// It satisfies audit.IPExtractor.
func ClientIPFromContext(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}
