package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL is how long Redis remembers an inbound event ID.
const DefaultDedupTTL = 24 * time.Hour

const dedupKeyPrefix = "trippipe:inbound:"

// RedisDedup keeps inbound dedup records in Redis so several instances
// behind one webhook share them.
type RedisDedup struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

var _ DedupRepo = (*RedisDedup)(nil)

// NewRedisDedup wraps an existing client. A non-positive ttl selects DefaultDedupTTL.
func NewRedisDedup(rdb redis.UniversalClient, ttl time.Duration) *RedisDedup {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDedup{rdb: rdb, ttl: ttl}
}

// ConnectRedis creates a client for addr and checks the connection.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", addr, err)
	}
	slog.Info("ConnectRedis: connected", "addr", addr)
	return rdb, nil
}

func dedupKey(messageID string) string {
	return dedupKeyPrefix + messageID
}

func (r *RedisDedup) RecordInbound(ctx context.Context, messageID, sessionID string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, dedupKey(messageID), sessionID, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return ok, nil
}

// MarkProcessed keeps the key alive for a full TTL after processing.
func (r *RedisDedup) MarkProcessed(ctx context.Context, messageID string) error {
	err := r.rdb.Expire(ctx, dedupKey(messageID), r.ttl).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
