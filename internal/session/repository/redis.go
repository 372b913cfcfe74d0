package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"kaldor-iiot/backend/internal/session/domain"
)

// RedisRepository stores sessions as JSON under session:<userID> with a TTL
// matching the session's expiry.
type RedisRepository struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client, now: time.Now}
}

func (r *RedisRepository) Create(ctx context.Context, s *domain.Session) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return errors.New("session already expired")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, Key(s.UserID), b, ttl).Err()
}

func (r *RedisRepository) Get(ctx context.Context, userID string) (*domain.Session, error) {
	b, err := r.client.Get(ctx, Key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s domain.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisRepository) Delete(ctx context.Context, userID string) error {
	return r.client.Del(ctx, Key(userID)).Err()
}
