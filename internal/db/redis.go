package db

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// OpenRedis connects to the Redis server at url (redis:// or rediss://) and pings it.
// Caller must call Close when done.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis url is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
