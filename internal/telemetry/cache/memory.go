package cache

import (
	"context"
	"sync"
	"time"

	"kaldor-iiot/backend/internal/telemetry/domain"
)

type memoryEntry struct {
	ev        domain.Event
	expiresAt time.Time
}

// MemoryStore is the in-process LatestStore used when REDIS_URL is unset.
type MemoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore. ttl <= 0 uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Put(ctx context.Context, ev domain.Event) error {
	s.mu.Lock()
	s.entries[Key(ev.EntityID, ev.Kind)] = memoryEntry{ev: ev.Clone(), expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, entityID string, kind domain.Kind) (*domain.Event, error) {
	key := Key(entityID, kind)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !s.now().Before(e.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && !s.now().Before(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, nil
	}
	ev := e.ev.Clone()
	return &ev, nil
}
