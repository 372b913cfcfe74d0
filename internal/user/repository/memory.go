package repository

import (
	"context"
	"sync"

	"kaldor-iiot/backend/internal/user/domain"
)

// MemoryRepository keeps users in process memory. Used when DATABASE_URL is unset and in tests.
type MemoryRepository struct {
	mu         sync.RWMutex
	byID       map[string]*domain.User
	byUsername map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.User), byUsername: make(map[string]string)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.byID[r.byUsername[username]]), nil
}

func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUsername[u.Username]; ok {
		return ErrDuplicateUsername
	}
	r.byID[u.ID] = clone(u)
	r.byUsername[u.Username] = u.ID
	return nil
}

func clone(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	return &cp
}
