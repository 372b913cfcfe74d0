package repository

import (
	"context"
	"sort"
	"sync"

	"kaldor-iiot/backend/internal/telemetry/domain"
)

// MemoryRepository keeps events in process memory. Used when DATABASE_URL is unset and in tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	events []domain.Event
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Save(ctx context.Context, ev *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ev.ID = r.nextID
	r.events = append(r.events, ev.Clone())
	return nil
}

func (r *MemoryRepository) Latest(ctx context.Context, entityID string, kind domain.Kind) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *domain.Event
	for i := range r.events {
		e := &r.events[i]
		if e.EntityID != entityID || e.Kind != kind {
			continue
		}
		if latest == nil || !e.ReceivedAt.Before(latest.ReceivedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := latest.Clone()
	return &cp, nil
}

func (r *MemoryRepository) ListByEntity(ctx context.Context, entityID string, limit int) ([]*domain.Event, error) {
	r.mu.RLock()
	var out []*domain.Event
	for i := range r.events {
		if r.events[i].EntityID == entityID {
			cp := r.events[i].Clone()
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
