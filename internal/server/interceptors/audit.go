package interceptors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kaldor-iiot/backend/internal/audit"
)

// Audit returns middleware that records an audit log entry after each
// authenticated request. Requests without an identity in context are not
// audited. The entry is best-effort and never changes the response.
func Audit(logger audit.AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			subjectID, ok := GetSubjectID(r.Context())
			if !ok || logger == nil {
				return
			}
			pattern := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				pattern = rc.RoutePattern()
			}
			ar := audit.ParseRoute(r.Method, pattern)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.LogEvent(r.Context(), audit.Event{
				SubjectID:  subjectID,
				Action:     ar.Action,
				Resource:   ar.Resource,
				ResourceID: chi.URLParam(r, "id"),
				Metadata:   fmt.Sprintf(`{"status":%d}`, status),
			})
		})
	}
}
