package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"kaldor-iiot/backend/internal/telemetry/domain"
)

// RedisStore keeps latest events as JSON strings with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore returns a LatestStore backed by client. ttl <= 0 uses DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, ev domain.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, Key(ev.EntityID, ev.Kind), b, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, entityID string, kind domain.Kind) (*domain.Event, error) {
	b, err := s.client.Get(ctx, Key(entityID, kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ev domain.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
