// Package cache provides a Redis-backed cache for public tracking lookups.
// Tracking pages poll aggressively; a short TTL keeps them off the database
// without letting status changes go stale for long.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const trackingKeyPrefix = "track:"

// Tracking caches rendered tracking responses keyed by token. Failures are
// logged and treated as misses; the cache must never break a lookup.
type Tracking struct {
	client *redis.Client
}

// NewTracking creates a Tracking cache on the given Redis client.
func NewTracking(client *redis.Client) *Tracking {
	return &Tracking{client: client}
}

// Get returns the cached response body for the token, if present.
func (t *Tracking) Get(ctx context.Context, token string) ([]byte, bool) {
	body, err := t.client.Get(ctx, trackingKeyPrefix+token).Bytes()
	if err != nil {
		if err != redis.Nil {
			zctx.From(ctx).Debug("tracking cache get failed", zap.Error(err))
		}
		return nil, false
	}
	return body, true
}

// Set stores the response body for the token with the given TTL.
func (t *Tracking) Set(ctx context.Context, token string, body []byte, ttl time.Duration) {
	if err := t.client.Set(ctx, trackingKeyPrefix+token, body, ttl).Err(); err != nil {
		zctx.From(ctx).Debug("tracking cache set failed", zap.Error(err))
	}
}
