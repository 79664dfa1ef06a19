package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/ports"
	"github.com/redis/go-redis/v9"
)

// challengeRetention keeps an expired challenge readable for a while so a late
// confirmation is reported as expired rather than missing
const challengeRetention = time.Hour

// consumeScript marks a challenge consumed only if it exists, is unconsumed
// and carries the expected hash
var consumeScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'code_hash')
if not stored or stored ~= ARGV[1] then
	return 0
end
if redis.call('HGET', KEYS[1], 'consumed') == '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'consumed', '1')
return 1
`)

// RedisChallengeStore keeps one-time code challenges in Redis hashes
type RedisChallengeStore struct {
	client *redis.Client
	prefix string
}

// NewRedisChallengeStore creates a Redis-backed challenge store
func NewRedisChallengeStore(client *redis.Client, prefix string) ports.ChallengeStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisChallengeStore{
		client: client,
		prefix: prefix + "challenge:",
	}
}

func (s *RedisChallengeStore) key(purpose core.Purpose, address string) string {
	return s.prefix + string(purpose) + ":" + address
}

// Put replaces the challenge for the key in one transaction
func (s *RedisChallengeStore) Put(ctx context.Context, challenge core.Challenge) error {
	key := s.key(challenge.Purpose, challenge.Address)
	consumed := "0"
	if challenge.Consumed {
		consumed = "1"
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"code_hash", challenge.CodeHash,
			"created_at", challenge.CreatedAt.UnixMilli(),
			"expires_at", challenge.ExpiresAt.UnixMilli(),
			"consumed", consumed,
			"attempts", challenge.Attempts,
		)
		pipe.PExpireAt(ctx, key, challenge.ExpiresAt.Add(challengeRetention))
		return nil
	})
	if err != nil {
		return unavailable("failed to store challenge", err)
	}
	return nil
}

// Get loads the challenge for the key
func (s *RedisChallengeStore) Get(ctx context.Context, purpose core.Purpose, address string) (*core.Challenge, error) {
	fields, err := s.client.HGetAll(ctx, s.key(purpose, address)).Result()
	if err != nil {
		return nil, unavailable("failed to load challenge", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrChallengeNotFound
	}

	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt challenge created_at: %w", err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt challenge expires_at: %w", err)
	}
	attempts, _ := strconv.Atoi(fields["attempts"])

	return &core.Challenge{
		Purpose:   purpose,
		Address:   address,
		CodeHash:  fields["code_hash"],
		CreatedAt: time.UnixMilli(createdAt),
		ExpiresAt: time.UnixMilli(expiresAt),
		Consumed:  fields["consumed"] == "1",
		Attempts:  attempts,
	}, nil
}

// Consume atomically marks the challenge consumed
func (s *RedisChallengeStore) Consume(ctx context.Context, purpose core.Purpose, address, codeHash string) (bool, error) {
	won, err := consumeScript.Run(ctx, s.client, []string{s.key(purpose, address)}, codeHash).Int()
	if err != nil {
		return false, unavailable("failed to consume challenge", err)
	}
	return won == 1, nil
}

// RecordFailure increments the attempt counter
func (s *RedisChallengeStore) RecordFailure(ctx context.Context, purpose core.Purpose, address string) (int, error) {
	key := s.key(purpose, address)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, unavailable("failed to record attempt", err)
	}
	if exists == 0 {
		return 0, core.ErrChallengeNotFound
	}
	attempts, err := s.client.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return 0, unavailable("failed to record attempt", err)
	}
	return int(attempts), nil
}

// Delete withdraws the challenge
func (s *RedisChallengeStore) Delete(ctx context.Context, purpose core.Purpose, address string) error {
	if err := s.client.Del(ctx, s.key(purpose, address)).Err(); err != nil {
		return unavailable("failed to delete challenge", err)
	}
	return nil
}
