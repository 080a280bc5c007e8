// amqp.go
//
// RabbitMQ publisher. One connection and one channel, guarded by a mutex.
// A failed publish drops the channel; the next call redials and re-declares
// every exchange seen so far.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPBroker implements Broker over amqp091-go.
type AMQPBroker struct {
	url string

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	exchanges map[string]string // name -> kind, replayed after redial
	closed    bool
}

// dialTimeout bounds TCP connect plus the AMQP handshake when ctx has no deadline.
const dialTimeout = 30 * time.Second

// DialAMQP connects to RabbitMQ and opens a channel. Cancelling ctx aborts the dial.
func DialAMQP(ctx context.Context, url string) (*AMQPBroker, error) {
	b := &AMQPBroker{url: url, exchanges: make(map[string]string)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.channelLocked(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// dial opens an AMQP connection whose TCP connect and handshake are bound to ctx.
func dial(ctx context.Context, url string) (*amqp.Connection, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(dialTimeout)
	}
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// Cleared by the client once the handshake completes.
			if err := conn.SetDeadline(deadline); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
}

// channelLocked returns a live channel, redialing when needed. Caller holds mu.
func (b *AMQPBroker) channelLocked(ctx context.Context) (*amqp.Channel, error) {
	if b.closed {
		return nil, fmt.Errorf("amqp broker closed")
	}
	if b.ch != nil && !b.ch.IsClosed() {
		return b.ch, nil
	}
	if b.conn == nil || b.conn.IsClosed() {
		conn, err := dial(ctx, b.url)
		if err != nil {
			return nil, fmt.Errorf("dialing amqp: %w", err)
		}
		b.conn = conn
	}
	ch, err := b.conn.Channel()
	if err != nil {
		b.conn.Close()
		b.conn = nil
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	for name, kind := range b.exchanges {
		if err := declare(ch, name, kind); err != nil {
			ch.Close()
			return nil, err
		}
	}
	b.ch = ch
	return ch, nil
}

func declare(ch *amqp.Channel, name, kind string) error {
	// Non-durable, matching the consumers' declarations.
	if err := ch.ExchangeDeclare(name, kind, false, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", name, err)
	}
	return nil
}

// DeclareExchange declares name on the broker and remembers it for redials.
func (b *AMQPBroker) DeclareExchange(ctx context.Context, name, kind string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, err := b.channelLocked(ctx)
	if err != nil {
		return err
	}
	if err := declare(ch, name, kind); err != nil {
		b.ch = nil
		return err
	}
	b.exchanges[name] = kind
	return nil
}

// Publish sends body as a transient JSON message.
func (b *AMQPBroker) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, err := b.channelLocked(ctx)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		slog.Warn("amqp publish failed, dropping channel", "exchange", exchange, "error", err)
		b.ch.Close()
		b.ch = nil
		return fmt.Errorf("publishing to %s: %w", exchange, err)
	}
	return nil
}

// Close shuts the channel and connection. Later calls fail.
func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.ch != nil {
		b.ch.Close()
		b.ch = nil
	}
	if b.conn != nil {
		err := b.conn.Close()
		b.conn = nil
		return err
	}
	return nil
}
