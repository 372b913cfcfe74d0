package telemetry

import (
	"context"

	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/logging"
	"kaldor-iiot/backend/internal/telemetry/cache"
	"kaldor-iiot/backend/internal/telemetry/domain"
	"kaldor-iiot/backend/internal/telemetry/repository"
)

// Store persists events to the repository and mirrors the newest one per
// entity and kind into a latest-value cache. Either side may be nil.
type Store struct {
	repo   repository.Repository
	latest cache.LatestStore
	log    *zap.Logger
}

// NewStore returns a Store over repo and latest.
func NewStore(repo repository.Repository, latest cache.LatestStore, log *zap.Logger) *Store {
	return &Store{repo: repo, latest: latest, log: logging.OrNop(log)}
}

// Persist saves ev and then updates the cache. A repository failure is returned
// without touching the cache; a cache failure is logged and not returned.
func (s *Store) Persist(ctx context.Context, ev domain.Event) error {
	if s.repo != nil {
		if err := s.repo.Save(ctx, &ev); err != nil {
			return err
		}
	}
	if s.latest != nil {
		if err := s.latest.Put(ctx, ev); err != nil {
			s.log.Warn("telemetry: latest cache write failed",
				zap.String("entity_id", ev.EntityID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Latest returns the newest event of kind for entityID, or nil if none is known.
// The cache is consulted first; a miss falls back to the repository and
// backfills the cache.
func (s *Store) Latest(ctx context.Context, entityID string, kind domain.Kind) (*domain.Event, error) {
	if s.latest != nil {
		ev, err := s.latest.Get(ctx, entityID, kind)
		if err != nil {
			s.log.Warn("telemetry: latest cache read failed",
				zap.String("entity_id", entityID),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
		} else if ev != nil {
			return ev, nil
		}
	}
	if s.repo == nil {
		return nil, nil
	}
	ev, err := s.repo.Latest(ctx, entityID, kind)
	if err != nil || ev == nil {
		return nil, err
	}
	if s.latest != nil {
		_ = s.latest.Put(ctx, *ev)
	}
	return ev, nil
}

// Snapshot returns the newest event of every kind for entityID, keyed by kind.
// Kinds with no events are absent.
func (s *Store) Snapshot(ctx context.Context, entityID string) (map[domain.Kind]*domain.Event, error) {
	out := make(map[domain.Kind]*domain.Event, len(domain.Kinds))
	for _, k := range domain.Kinds {
		ev, err := s.Latest(ctx, entityID, k)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			out[k] = ev
		}
	}
	return out, nil
}

// History returns up to limit persisted events for entityID, newest first.
func (s *Store) History(ctx context.Context, entityID string, limit int) ([]*domain.Event, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListByEntity(ctx, entityID, limit)
}
