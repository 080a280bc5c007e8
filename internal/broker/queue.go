// queue.go
//
// Redis-backed outbound message queue. RedisQueue implements Broker and
// enqueues messages instead of publishing them; Relay drains the queue in a
// background loop and hands each message to a downstream Broker (AMQPBroker).
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list used as the outbound message queue.
const QueueKey = "argus:broker:queue"

// DefaultMaxQueueSize caps the queue when the relay is down. 0 = unlimited.
const DefaultMaxQueueSize int64 = 10000

// relayBackoff is the pause after a failed forward.
const relayBackoff = time.Second

// maxRelayAttempts is how many times Relay tries to forward one message before dropping it.
const maxRelayAttempts = 3

// ErrQueueFull is returned by Publish when the queue has reached its size cap.
var ErrQueueFull = errors.New("broker queue full")

// envelope is the serialized form of one queued message.
type envelope struct {
	Exchange   string `json:"exchange"`
	Kind       string `json:"kind"`
	RoutingKey string `json:"routing_key"`
	Body       []byte `json:"body"`
	Attempts   int    `json:"attempts"`
}

// RedisQueue buffers published messages in a capped Redis list.
type RedisQueue struct {
	rdb          *redis.Client
	ownsClient   bool
	maxQueueSize int64 // 0 = unlimited

	mu    sync.RWMutex
	kinds map[string]string // exchange -> kind, carried in each envelope
}

// NewRedisQueue wraps an existing client. maxSize caps the queue length (0 = unlimited).
func NewRedisQueue(rdb *redis.Client, maxSize int64) *RedisQueue {
	return &RedisQueue{rdb: rdb, maxQueueSize: maxSize, kinds: make(map[string]string)}
}

// DialRedisQueue connects to redisURL and returns a queue owning that client.
func DialRedisQueue(ctx context.Context, redisURL string, maxSize int64) (*RedisQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing queue url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to queue: %w", err)
	}
	q := NewRedisQueue(rdb, maxSize)
	q.ownsClient = true
	return q, nil
}

// enqueueScript atomically checks the queue length and pushes the message only if
// under the cap. Returns 1 if enqueued, 0 if rejected (queue full).
// KEYS[1] = queue key, ARGV[1] = max size (0 = skip check), ARGV[2] = payload.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[1])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// DeclareExchange records the exchange kind; the relay declares it downstream.
func (q *RedisQueue) DeclareExchange(_ context.Context, name, kind string) error {
	q.mu.Lock()
	q.kinds[name] = kind
	q.mu.Unlock()
	return nil
}

// Publish enqueues body for later delivery. Returns ErrQueueFull at the cap.
func (q *RedisQueue) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	q.mu.RLock()
	kind := q.kinds[exchange]
	q.mu.RUnlock()
	return q.enqueue(ctx, envelope{Exchange: exchange, Kind: kind, RoutingKey: routingKey, Body: body})
}

func (q *RedisQueue) enqueue(ctx context.Context, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	ok, err := enqueueScript.Run(ctx, q.rdb, []string{QueueKey}, q.maxQueueSize, data).Int64()
	if err != nil {
		return fmt.Errorf("enqueuing message: %w", err)
	}
	if ok == 0 {
		return ErrQueueFull
	}
	return nil
}

// Len returns the number of queued messages.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, QueueKey).Result()
}

// Close releases the Redis client if the queue dialed it.
func (q *RedisQueue) Close() error {
	if q.ownsClient {
		return q.rdb.Close()
	}
	return nil
}

// Relay drains the queue in a loop, forwarding each message to dst.
// Blocks until ctx is cancelled. Call in a goroutine.
func (q *RedisQueue) Relay(ctx context.Context, dst Broker) {
	declared := make(map[string]bool)
	for {
		// BLPop blocks up to 2s then returns redis.Nil, keeping the loop
		// responsive to ctx cancellation without busy-spinning.
		res, err := q.rdb.BLPop(ctx, 2*time.Second, QueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			slog.Error("relay: queue pop failed", "error", err)
			continue
		}
		// res[0] = key name, res[1] = payload
		var env envelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			slog.Error("relay: bad message payload", "error", err)
			continue
		}
		if err := q.forward(ctx, dst, env, declared); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(relayBackoff):
			}
		}
	}
}

// forward publishes one message downstream. Failed messages go back on the
// queue until maxRelayAttempts, then are dropped. Returns the publish error.
func (q *RedisQueue) forward(ctx context.Context, dst Broker, env envelope, declared map[string]bool) error {
	err := func() error {
		if env.Kind != "" && !declared[env.Exchange] {
			if err := dst.DeclareExchange(ctx, env.Exchange, env.Kind); err != nil {
				return err
			}
			declared[env.Exchange] = true
		}
		return dst.Publish(ctx, env.Exchange, env.RoutingKey, env.Body)
	}()
	if err == nil {
		return nil
	}

	env.Attempts++
	if env.Attempts >= maxRelayAttempts {
		slog.Error("relay: dropping message", "exchange", env.Exchange, "attempts", env.Attempts, "error", err)
		return err
	}
	slog.Warn("relay: publish failed, requeueing", "exchange", env.Exchange, "attempts", env.Attempts, "error", err)
	if qerr := q.enqueue(ctx, env); qerr != nil {
		slog.Error("relay: requeue failed", "exchange", env.Exchange, "error", qerr)
	}
	return err
}
