package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"kaldor-iiot/backend/internal/session/domain"
)

// MemoryRepository keeps sessions in process memory. Used when REDIS_URL is unset and in tests.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]domain.Session), now: time.Now}
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	if s.Expired(r.now()) {
		return errors.New("session already expired")
	}
	r.mu.Lock()
	r.sessions[s.UserID] = *s
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, userID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return nil, nil
	}
	if s.Expired(r.now()) {
		delete(r.sessions, userID)
		return nil, nil
	}
	return &s, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, userID string) error {
	r.mu.Lock()
	delete(r.sessions, userID)
	r.mu.Unlock()
	return nil
}
