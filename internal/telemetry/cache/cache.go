// Package cache keeps the most recent event per entity and kind for fast reads.
package cache

import (
	"context"
	"time"

	"kaldor-iiot/backend/internal/telemetry/domain"
)

// DefaultTTL bounds how long a latest value is served after the entity goes quiet.
const DefaultTTL = 24 * time.Hour

// LatestStore holds the newest event per (entity, kind).
type LatestStore interface {
	Put(ctx context.Context, ev domain.Event) error
	// Get returns the cached event, or nil on a miss.
	Get(ctx context.Context, entityID string, kind domain.Kind) (*domain.Event, error)
}

// Key returns the cache key for an entity and kind.
func Key(entityID string, kind domain.Kind) string {
	return "telemetry:latest:" + entityID + ":" + string(kind)
}
