// Package snapshot caches the last reconciled process view per process. The
// engine's recovery model is "re-fetch on any failure", so the editor reads
// through this cache and every successful mutation refreshes it.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"opsboard/api/internal/flow"
)

// ErrNotFound means no cached view exists (never cached, expired, or
// invalidated).
var ErrNotFound = errors.New("snapshot: not cached")

// RedisStore keeps process views in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "process:", ttl: ttl}, nil
}

func (s *RedisStore) key(processID string) string {
	return s.prefix + processID
}

// Save stores the reconciled view, replacing any previous snapshot.
func (s *RedisStore) Save(ctx context.Context, p *flow.Process) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal process snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(p.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save process snapshot: %w", err)
	}
	return nil
}

// Load returns the cached view, or ErrNotFound.
func (s *RedisStore) Load(ctx context.Context, processID string) (*flow.Process, error) {
	payload, err := s.client.Get(ctx, s.key(processID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load process snapshot: %w", err)
	}

	var p flow.Process
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("unmarshal process snapshot: %w", err)
	}
	return &p, nil
}

// Invalidate drops the cached view, forcing the next read through to the
// store.
func (s *RedisStore) Invalidate(ctx context.Context, processID string) error {
	if err := s.client.Del(ctx, s.key(processID)).Err(); err != nil {
		return fmt.Errorf("invalidate process snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
