package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/ports"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the redis adapters
const DefaultPrefix = "passage:"

// RedisStore is a Redis implementation of the RevocationStore interface.
// Revoked token IDs live in one sorted set scored by natural expiry in
// milliseconds, so a sweep is a single range delete.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a new Redis revocation registry
func NewRedisStore(client *redis.Client, prefix string) ports.RevocationStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{
		client: client,
		key:    prefix + "revoked",
	}
}

// Revoke adds the token ID to the registry. NX keeps the first entry.
func (s *RedisStore) Revoke(ctx context.Context, entry core.RevocationEntry) error {
	member := redis.Z{
		Score:  float64(entry.ExpiresAt.UnixMilli()),
		Member: entry.TokenID,
	}
	if err := s.client.ZAddNX(ctx, s.key, member).Err(); err != nil {
		return unavailable("failed to revoke token", err)
	}
	return nil
}

// IsRevoked checks if a token ID is in the registry
func (s *RedisStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := s.client.ZScore(ctx, s.key, tokenID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("failed to check token revocation", err)
	}
	return true, nil
}

// Sweep removes every entry scored strictly below now
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	upper := "(" + strconv.FormatInt(now.UnixMilli(), 10)
	removed, err := s.client.ZRemRangeByScore(ctx, s.key, "-inf", upper).Result()
	if err != nil {
		return 0, unavailable("failed to sweep revocations", err)
	}
	return int(removed), nil
}

func unavailable(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, core.ErrStoreUnavailable, err)
}
