// publisher.go
//
// Publisher serializes notification batches and live-location updates onto
// the broker's exchanges.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MGallo-Code/argus/internal/broker"
	"github.com/MGallo-Code/argus/internal/model"
)

// MessageBroker publishes raw bodies.
// Satisfied by broker.Broker implementations.
type MessageBroker interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Publisher sends notification batches and live locations.
type Publisher struct {
	broker MessageBroker
}

// NewPublisher wraps b.
func NewPublisher(b MessageBroker) *Publisher {
	return &Publisher{broker: b}
}

// Publish sends batch as one JSON message to the notifications exchange.
// batch is expected to be a slice; the consumer fans it out per entry.
func (p *Publisher) Publish(ctx context.Context, batch any) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshaling notification batch: %w", err)
	}
	if err := p.broker.Publish(ctx, broker.NotificationsExchange, broker.NotificationsKey, body); err != nil {
		return fmt.Errorf("publishing notifications: %w", err)
	}
	return nil
}

// LocationTopic is the websocket topic for updates addressed to recipient.
func LocationTopic(recipient string) string {
	return "location." + recipient + ".*"
}

// PublishLocation sends one live-location update to the recipient's websocket topic.
func (p *Publisher) PublishLocation(ctx context.Context, loc model.LiveLocation) error {
	body, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("marshaling live location: %w", err)
	}
	if err := p.broker.Publish(ctx, broker.WebsocketExchange, LocationTopic(loc.RecipientUsername), body); err != nil {
		return fmt.Errorf("publishing live location: %w", err)
	}
	return nil
}
