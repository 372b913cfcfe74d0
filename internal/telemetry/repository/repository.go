package repository

import (
	"context"

	"kaldor-iiot/backend/internal/telemetry/domain"
)

// Repository defines persistence for telemetry events.
type Repository interface {
	// Save persists ev and sets ev.ID.
	Save(ctx context.Context, ev *domain.Event) error
	// Latest returns the newest event of kind for entityID, or nil if there is none.
	Latest(ctx context.Context, entityID string, kind domain.Kind) (*domain.Event, error)
	// ListByEntity returns the newest events for entityID, newest first.
	ListByEntity(ctx context.Context, entityID string, limit int) ([]*domain.Event, error)
}
