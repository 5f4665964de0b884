package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"tripctl/internal/logger"
)

const (
	cacheKeyPrefix         = "tripctl:cache:"
	notificationsChannel   = "tripctl_notifications"
	defaultCacheTTL        = 24 * time.Hour
)

// redisCache is the optional cross-process fast path in front of the
// fingerprinted result cache, and the pub/sub channel for status/result
// notifications.
type redisCache struct {
	client *redis.Client
}

// ConnectRedis dials addr and pings it; on failure it logs a warning and
// returns nil, matching the teacher's "degrade to nil client" pattern rather
// than failing startup.
func ConnectRedis(ctx context.Context, addr string) *redisCache {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.NewContextLogger(ctx).Warn("redis_unavailable", "addr", addr, "error", err)
		_ = client.Close()
		return nil
	}
	return &redisCache{client: client}
}

// WithRedis attaches a connected fast-path cache to the store.
func (s *Store) WithRedis(c *redisCache) *Store {
	s.cache = c
	return s
}

func (c *redisCache) saveResult(fingerprint string, result map[string]any) {
	if c == nil || c.client == nil {
		return
	}
	b, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = c.client.Set(context.Background(), cacheKeyPrefix+fingerprint, b, defaultCacheTTL).Err()
}

func (c *redisCache) loadResult(fingerprint string) map[string]any {
	if c == nil || c.client == nil {
		return nil
	}
	b, err := c.client.Get(context.Background(), cacheKeyPrefix+fingerprint).Bytes()
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// PublishStatus broadcasts a session status transition on the notifications
// channel. A nil cache (Redis unavailable) makes this a no-op, matching the
// teacher's PublishStatus behavior.
func (c *redisCache) PublishStatus(ctx context.Context, traceID, sessionID, status string) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload := map[string]any{
		"trace_id":   traceID,
		"session_id": sessionID,
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, notificationsChannel, string(b)).Err()
}

// PublishNotification broadcasts a completed result on the notifications
// channel.
func (c *redisCache) PublishNotification(ctx context.Context, traceID, sessionID string, result map[string]any) error {
	if c == nil || c.client == nil {
		return nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"trace_id":   traceID,
		"session_id": sessionID,
		"result":     string(b),
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, notificationsChannel, string(out)).Err()
}

// Cache exposes the attached redisCache (nil-safe) for callers (e.g. the
// orchestrator) that need to publish status/notification events directly.
func (s *Store) Cache() *redisCache {
	return s.cache
}
