// Package idempotency remembers the outcome of keyed requests in Redis so that
// retried writes are not applied twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix        = "tripledger:idempotency:v1:"
	inProgressMarker = "__in_progress__"
	cleanupTimeout   = 2 * time.Second
)

// ErrInProgress is returned while another request holding the same key runs.
var ErrInProgress = errors.New("request with this idempotency key is in progress")

// NewRedisClient configures a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Store records request results keyed by scope and idempotency key.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a Store. Results expire after ttl.
func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Do runs fn at most once per (scope, key) within the TTL. A repeated call
// returns the first call's result with replayed set and does not run fn.
// When fn fails the reservation is released so the request can be retried.
func (s *Store) Do(ctx context.Context, scope, key string, fn func(ctx context.Context) (string, error)) (result string, replayed bool, err error) {
	cacheKey := keyPrefix + scope + ":" + key

	reserved, err := s.client.SetNX(ctx, cacheKey, inProgressMarker, s.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !reserved {
		stored, err := s.client.Get(ctx, cacheKey).Result()
		if errors.Is(err, redis.Nil) {
			// Expired or released between the two calls; the caller may retry.
			return "", false, ErrInProgress
		}
		if err != nil {
			return "", false, fmt.Errorf("lookup idempotency key: %w", err)
		}
		if stored == inProgressMarker {
			return "", false, ErrInProgress
		}
		return stored, true, nil
	}

	result, err = fn(ctx)
	if err != nil {
		s.release(cacheKey)
		return "", false, err
	}

	if err := s.client.Set(ctx, cacheKey, result, s.ttl).Err(); err != nil {
		// The marker stays until it expires so a retry cannot repeat the write.
		slog.Error("Failed to persist idempotent result", "key", key, "error", err)
	}
	return result, false, nil
}

func (s *Store) release(cacheKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.client.Del(ctx, cacheKey).Err(); err != nil {
		slog.Warn("Failed to release idempotency key", "key", cacheKey, "error", err)
	}
}
