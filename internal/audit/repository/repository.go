package repository

import (
	"context"

	"kaldor-iiot/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]*domain.AuditLog, error)
}
