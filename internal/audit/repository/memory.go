package repository

import (
	"context"
	"sort"
	"sync"

	"kaldor-iiot/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process memory. Used when DATABASE_URL is unset and in tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []*domain.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	cp := *a
	r.mu.Lock()
	r.entries = append(r.entries, &cp)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]*domain.AuditLog, error) {
	r.mu.RLock()
	var out []*domain.AuditLog
	for _, e := range r.entries {
		if e.Resource == resource && e.ResourceID == resourceID {
			cp := *e
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
