// redis.go -- go-redis client for the presence cache.
//
// Holds the latest telemetry per (recipient, sender) in one hash per recipient,
// and a global sorted set of last-seen timestamps read by the watchdog.
// Entries are overwritten on every update and never deleted.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MGallo-Code/argus/internal/model"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL, connects, and pings.
// The returned client is shared by the presence cache and the notification queue.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// RedisStore wraps a Redis client for presence cache operations.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore returns a presence cache over an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb}
}

// CheckHealth pings Redis.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// StoreTelemetry records sender's latest telemetry for recipient, bumps sender's
// last-seen marker to seenAt and clears any watchdog retry count, atomically.
func (s *RedisStore) StoreTelemetry(ctx context.Context, recipient, sender string, t model.Telemetry, seenAt time.Time) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling telemetry: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, TelemetryKey(recipient), sender, payload)
	pipe.ZAdd(ctx, LastSeenKey, redis.Z{Score: float64(seenAt.Unix()), Member: sender})
	pipe.HDel(ctx, NannyRetryKey, sender)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching telemetry: %w", err)
	}
	return nil
}

// Telemetry returns the latest telemetry sender addressed to recipient.
// Returns ErrCacheMiss if there is none.
func (s *RedisStore) Telemetry(ctx context.Context, recipient, sender string) (*model.Telemetry, error) {
	raw, err := s.rdb.HGet(ctx, TelemetryKey(recipient), sender).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("fetching telemetry: %w", err)
	}
	var t model.Telemetry
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("parsing telemetry: %w", err)
	}
	return &t, nil
}

// LastSeen returns username's presence marker. Returns ErrCacheMiss if never seen.
func (s *RedisStore) LastSeen(ctx context.Context, username string) (time.Time, error) {
	score, err := s.rdb.ZScore(ctx, LastSeenKey, username).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrCacheMiss
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("fetching last seen: %w", err)
	}
	return time.Unix(int64(score), 0), nil
}

// StaleUsers returns users whose last-seen marker lies in [from, to], both inclusive.
func (s *RedisStore) StaleUsers(ctx context.Context, from, to time.Time) ([]string, error) {
	users, err := s.rdb.ZRangeByScore(ctx, LastSeenKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(from.Unix(), 10),
		Max: strconv.FormatInt(to.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("querying stale users: %w", err)
	}
	return users, nil
}

// RecordRetry increments the watchdog retry count for username and returns it.
// The count resets on the user's next telemetry write.
func (s *RedisStore) RecordRetry(ctx context.Context, username string) (int64, error) {
	n, err := s.rdb.HIncrBy(ctx, NannyRetryKey, username, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("recording retry: %w", err)
	}
	return n, nil
}
