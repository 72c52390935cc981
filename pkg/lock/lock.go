package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "lock:room:"
	lockTTL       = 10 * time.Second
	retryInterval = 50 * time.Millisecond
)

// RedisLocker serializes one operation per room across all server
// instances with a SET NX lease. Playback advancement runs under it so two
// concurrent advances cannot double-mark or skip an item.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// WithRoomLock runs fn while holding the room's lock. Acquisition retries
// until the context is done; the lease TTL keeps a crashed holder from
// blocking the room forever. The lock is only released if still owned, so
// an expired lease never deletes a successor's lock.
func (l *RedisLocker) WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context) error) error {
	key := keyPrefix + roomID
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire room lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	defer l.release(key, token)

	return fn(ctx)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
}
