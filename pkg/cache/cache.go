package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Room view names. Keys on the wire are "<view>:<roomID>".
const (
	ViewStreams    = "streams"
	ViewNowPlaying = "nowplaying"
)

// ErrMiss is returned by Get when the view is absent or expired. The caller
// falls through to the store and repopulates; the cache is never the system
// of record.
var ErrMiss = errors.New("cache: miss")

// Cache is a read-through, short-TTL cache of per-room queue views backed
// by redis. Redis outages degrade to misses on read and are logged and
// ignored on write, so a broken cache can slow the system but not wedge it.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func New(client *redis.Client, ttl time.Duration, log *zap.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, log: log}
}

func key(roomID, view string) string {
	return fmt.Sprintf("%s:%s", view, roomID)
}

// Get unmarshals the cached view into dest, or reports ErrMiss.
func (c *Cache) Get(ctx context.Context, roomID, view string, dest any) error {
	data, err := c.client.Get(ctx, key(roomID, view)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("cache read failed", zap.String("key", key(roomID, view)), zap.Error(err))
		}
		return ErrMiss
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.log.Warn("cache entry unreadable", zap.String("key", key(roomID, view)), zap.Error(err))
		return ErrMiss
	}
	return nil
}

// Put stores the view with the configured TTL.
func (c *Cache) Put(ctx context.Context, roomID, view string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache marshal failed", zap.String("key", key(roomID, view)), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key(roomID, view), data, c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", zap.String("key", key(roomID, view)), zap.Error(err))
	}
}

// Invalidate drops the given views for a room. Called synchronously by
// every mutating operation before its handler returns; failures are logged
// since the TTL bounds any leftover staleness.
func (c *Cache) Invalidate(ctx context.Context, roomID string, views ...string) {
	keys := make([]string, 0, len(views))
	for _, view := range views {
		keys = append(keys, key(roomID, view))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("cache invalidation failed", zap.String("room", roomID), zap.Error(err))
	}
}
