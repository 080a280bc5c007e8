// Package broker publishes notification and live-location messages.
//
// Two implementations: AMQPBroker talks to RabbitMQ directly; RedisQueue
// buffers messages in a capped Redis list and a relay process forwards them
// to an AMQP broker. Callers only see the Broker interface.
package broker

import (
	"context"
	"fmt"
	"net/url"
)

// Exchanges and routing keys used by the services.
const (
	NotificationsExchange = "notifications.exchange"
	NotificationsKey      = "notifications"
	WebsocketExchange     = "websocket.exchange"

	KindDirect = "direct"
	KindTopic  = "topic"
)

// Broker publishes opaque message bodies to named exchanges.
type Broker interface {
	DeclareExchange(ctx context.Context, name, kind string) error
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
	Close() error
}

// New connects to the broker named by rawURL: amqp:// and amqps:// dial RabbitMQ,
// redis:// and rediss:// use a Redis-backed queue capped at maxSize (0 = unlimited).
// Both exchanges the services publish to are declared before returning.
func New(ctx context.Context, rawURL string, maxSize int64) (Broker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing broker url: %w", err)
	}

	var b Broker
	switch u.Scheme {
	case "amqp", "amqps":
		b, err = DialAMQP(ctx, rawURL)
	case "redis", "rediss":
		b, err = DialRedisQueue(ctx, rawURL, maxSize)
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	if err := DeclareDefaults(ctx, b); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// DeclareDefaults declares the notifications (direct) and websocket (topic) exchanges.
func DeclareDefaults(ctx context.Context, b Broker) error {
	if err := b.DeclareExchange(ctx, NotificationsExchange, KindDirect); err != nil {
		return fmt.Errorf("declaring %s: %w", NotificationsExchange, err)
	}
	if err := b.DeclareExchange(ctx, WebsocketExchange, KindTopic); err != nil {
		return fmt.Errorf("declaring %s: %w", WebsocketExchange, err)
	}
	return nil
}
