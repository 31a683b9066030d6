package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// RedisSessions resolves bearer tokens against the session records the auth
// layer writes to Redis. Expiry is handled by key TTLs on the writer side.
type RedisSessions struct {
	rdb *redis.Client
}

func NewRedisSessions(rdb *redis.Client) *RedisSessions {
	return &RedisSessions{rdb: rdb}
}

// Resolve returns the user id bound to a token, or "" when the token is
// unknown or expired.
func (s *RedisSessions) Resolve(ctx context.Context, token string) (string, error) {
	userID, err := s.rdb.Get(ctx, sessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	return userID, nil
}

// Create mints an opaque token bound to a user id. The key TTL is the only
// expiry mechanism; Resolve treats a missing key as an expired session.
func (s *RedisSessions) Create(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	if err := s.rdb.Set(ctx, sessionKeyPrefix+token, userID, ttl).Err(); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

// Revoke deletes a session token. Revoking an unknown token is a no-op.
func (s *RedisSessions) Revoke(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
