// Package presence mirrors relay presence into Redis so the stateless web
// tier can answer "is this user online" without calling the relay. Keys are
// im:presence:{userId} with a TTL renewed by heartbeats.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-chat-relay/internal/config"
	"github.com/tbourn/go-chat-relay/internal/domain"
)

// kv is the subset of the Redis client the mirror uses.
type kv interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Entry is the JSON value stored per online user.
type Entry struct {
	Username  string        `json:"username"`
	Status    domain.Status `json:"status"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// RedisMirror implements relay.PresenceMirror on Redis.
type RedisMirror struct {
	rdb    kv
	ttl    time.Duration
	closer func() error
}

// Key returns the presence key of userID.
func Key(userID string) string { return "im:presence:" + userID }

// NewRedisMirror connects to Redis and verifies the connection with PING.
func NewRedisMirror(ctx context.Context, cfg config.RedisConfig) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &RedisMirror{rdb: rdb, ttl: cfg.PresenceTTL, closer: rdb.Close}, nil
}

// SetOnline writes the user's entry and renews its TTL.
func (m *RedisMirror) SetOnline(ctx context.Context, userID, username string, status domain.Status) error {
	b, err := json.Marshal(Entry{Username: username, Status: status, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, Key(userID), b, m.ttl).Err()
}

// SetOffline deletes the user's entry.
func (m *RedisMirror) SetOffline(ctx context.Context, userID string) error {
	return m.rdb.Del(ctx, Key(userID)).Err()
}

// Close releases the Redis client.
func (m *RedisMirror) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}
