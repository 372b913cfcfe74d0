package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/audit/domain"
	auditrepo "kaldor-iiot/backend/internal/audit/repository"
	"kaldor-iiot/backend/internal/platform/logging"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// Event is one auditable action.
type Event struct {
	SubjectID  string
	Action     string
	Resource   string
	ResourceID string
	Metadata   string
}

// AuditLogger writes a single audit event. LogEvent is best-effort: failures
// are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, ev Event)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         *zap.Logger
	now         func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log *zap.Logger) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: logging.OrNop(log), now: time.Now}
}

// LogEvent writes one audit log entry.
func (l *Logger) LogEvent(ctx context.Context, ev Event) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	entry := &domain.AuditLog{
		ID:         uuid.New().String(),
		SubjectID:  ev.SubjectID,
		Action:     ev.Action,
		Resource:   ev.Resource,
		ResourceID: ev.ResourceID,
		IP:         ip,
		Metadata:   ev.Metadata,
		CreatedAt:  l.now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.Warn("audit: failed to log event",
			zap.String("action", ev.Action),
			zap.String("resource", ev.Resource),
			zap.Error(err),
		)
	}
}
