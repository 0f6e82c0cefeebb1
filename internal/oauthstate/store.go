package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrUnavailable = errors.New("oauth state store unavailable")

const keyPrefix = "oauth_state"

// Store keeps short-lived OAuth states in Redis for CSRF protection of the
// MercadoPago connect flow. A state is single-use: Consume deletes it.
type Store struct {
	redis redis.Cmdable
	ttl   time.Duration
}

func NewStore(redis redis.Cmdable, ttl time.Duration) *Store {
	return &Store{redis: redis, ttl: ttl}
}

// Generate creates a random state and stores it with the configured TTL.
func (s *Store) Generate(ctx context.Context) (string, error) {
	if s.redis == nil {
		return "", ErrUnavailable
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	state := hex.EncodeToString(buf)

	if err := s.redis.Set(ctx, redisKey(state), "1", s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return state, nil
}

// Consume validates a state and removes it so it cannot be replayed.
func (s *Store) Consume(ctx context.Context, state string) (bool, error) {
	if s.redis == nil {
		return false, ErrUnavailable
	}
	if state == "" {
		return false, nil
	}
	_, err := s.redis.GetDel(ctx, redisKey(state)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume oauth state: %w", err)
	}
	return true, nil
}

func redisKey(state string) string {
	return keyPrefix + ":" + state
}
