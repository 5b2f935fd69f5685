package sequencer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// advanceScript sets the key to ARGV[1] only when it is higher than the stored value
var advanceScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return tonumber(cur)
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return tonumber(ARGV[1])
`)

// RedisTracker keeps last indices in Redis so several service replicas agree on them
type RedisTracker struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisTracker wraps an existing client. Keys expire after ttl of inactivity.
func NewRedisTracker(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTracker{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// ConnectRedis establishes a connection to Redis and verifies it with a ping
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func (r *RedisTracker) key(sessionID string) string {
	return r.keyPrefix + "seq:" + sessionID
}

// Last implements Tracker
func (r *RedisTracker) Last(ctx context.Context, sessionID string) (int, bool, error) {
	val, err := r.client.Get(ctx, r.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("error reading last index: %w", err)
	}

	last, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt last index %q for session %s: %w", val, sessionID, err)
	}
	return last, true, nil
}

// Advance implements Tracker
func (r *RedisTracker) Advance(ctx context.Context, sessionID string, index int) (int, error) {
	last, err := advanceScript.Run(ctx, r.client, []string{r.key(sessionID)}, index, r.ttl.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("error advancing last index: %w", err)
	}
	return last, nil
}

// Forget implements Tracker
func (r *RedisTracker) Forget(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("error deleting last index: %w", err)
	}
	return nil
}
