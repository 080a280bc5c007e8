// broker.go
//
// Shared recording broker. Satisfies broker.Broker and notify.MessageBroker.
package testutil

import (
	"context"
	"encoding/json"
	"sync"
)

// Message is one published body.
type Message struct {
	Exchange   string
	RoutingKey string
	Body       []byte
}

// MockBroker records every publish.
type MockBroker struct {
	PublishErr error
	DeclareErr error

	Exchanges map[string]string
	Messages  []Message
	Closed    bool

	mu sync.Mutex
}

// NewMockBroker returns an empty MockBroker.
func NewMockBroker() *MockBroker {
	return &MockBroker{Exchanges: make(map[string]string)}
}

func (b *MockBroker) DeclareExchange(_ context.Context, name, kind string) error {
	if b.DeclareErr != nil {
		return b.DeclareErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Exchanges == nil {
		b.Exchanges = make(map[string]string)
	}
	b.Exchanges[name] = kind
	return nil
}

func (b *MockBroker) Publish(_ context.Context, exchange, routingKey string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PublishErr != nil {
		return b.PublishErr
	}
	b.Messages = append(b.Messages, Message{Exchange: exchange, RoutingKey: routingKey, Body: body})
	return nil
}

func (b *MockBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}

// SetPublishErr swaps the injected publish error while effects may be running.
func (b *MockBroker) SetPublishErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PublishErr = err
}

// Sent returns a copy of the published messages, optionally filtered by exchange.
func (b *MockBroker) Sent(exchange string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.Messages {
		if exchange == "" || m.Exchange == exchange {
			out = append(out, m)
		}
	}
	return out
}

// DecodeBatch unmarshals a notification batch body into generic JSON objects.
func DecodeBatch(body []byte) ([]map[string]any, error) {
	var out []map[string]any
	err := json.Unmarshal(body, &out)
	return out, err
}
