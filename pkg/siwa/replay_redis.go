package siwa

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces consumed-nonce keys.
const DefaultRedisKeyPrefix = "siwa:nonce:"

// RedisReplayStore is a ReplayStore shared by every server instance that
// points at the same Redis.
type RedisReplayStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisReplayStore creates a replay store on top of an existing client.
func NewRedisReplayStore(client redis.Cmdable, prefix string) *RedisReplayStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisReplayStore{client: client, prefix: prefix}
}

// DialRedisReplayStore parses a redis:// URL, connects and pings the server.
// The returned close function releases the connection pool.
func DialRedisReplayStore(ctx context.Context, url string) (*RedisReplayStore, func() error, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisReplayStore(client, ""), client.Close, nil
}

// Consume implements ReplayStore with SET NX and a TTL matching the nonce lifetime.
func (s *RedisReplayStore) Consume(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	ttl := time.Until(expiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	first, err := s.client.SetNX(ctx, s.prefix+id, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX failed: %w", err)
	}
	return first, nil
}
