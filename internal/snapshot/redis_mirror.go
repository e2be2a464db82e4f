package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hypercore-one/bridge-health/internal/fleet"
)

// DefaultRedisKey is where the snapshot document is mirrored.
const DefaultRedisKey = "bridge-health:snapshot"

type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisMirror copies snapshots into Redis so that other processes can serve
// them without access to the snapshot file.
type RedisMirror struct {
	client redisClient
	key    string
	ttl    time.Duration
}

// NewRedisClient creates a Redis client from a redis:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisMirror mirrors snapshots under key. A zero ttl keeps the key forever.
func NewRedisMirror(client redis.UniversalClient, key string, ttl time.Duration) *RedisMirror {
	return newRedisMirror(client, key, ttl)
}

func newRedisMirror(client redisClient, key string, ttl time.Duration) *RedisMirror {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisMirror{client: client, key: key, ttl: ttl}
}

// Save implements Persister.
func (m *RedisMirror) Save(ctx context.Context, snapshot fleet.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := m.client.Set(ctx, m.key, payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", m.key, err)
	}
	return nil
}

// Load implements Persister. A missing key yields nil without an error.
func (m *RedisMirror) Load(ctx context.Context) (*fleet.Snapshot, error) {
	payload, err := m.client.Get(ctx, m.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", m.key, err)
	}

	var snapshot fleet.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("decode mirrored snapshot: %w", err)
	}
	return &snapshot, nil
}
