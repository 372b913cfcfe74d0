package repository

import (
	"context"
	"database/sql"

	"kaldor-iiot/backend/internal/audit/domain"
)

const (
	insertAuditLog = `INSERT INTO audit_logs (id, subject_id, action, resource, resource_id, ip, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	listAuditLogsByResource = `SELECT id, subject_id, action, resource, resource_id, ip, metadata, created_at
FROM audit_logs
WHERE resource = $1 AND resource_id = $2
ORDER BY created_at DESC
LIMIT $3`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	sub := sql.NullString{String: a.SubjectID, Valid: a.SubjectID != ""}
	meta := sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}
	_, err := r.db.ExecContext(ctx, insertAuditLog,
		a.ID, sub, a.Action, a.Resource, a.ResourceID, a.IP, meta, a.CreatedAt)
	return err
}

// ListByResource returns the newest audit logs for one resource instance.
func (r *PostgresRepository) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listAuditLogsByResource, resource, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a    domain.AuditLog
			sub  sql.NullString
			meta sql.NullString
		)
		if err := rows.Scan(&a.ID, &sub, &a.Action, &a.Resource, &a.ResourceID, &a.IP, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.SubjectID = sub.String
		a.Metadata = meta.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
