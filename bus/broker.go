package bus

import (
	"context"

	"github.com/seatwatch/projector/eventsrc"
)

// Broker defines the interface for the message broker carrying domain
// events from the ingestion pipeline to the projection engine.
type Broker interface {
	// Publish sends an event to a specific topic.
	Publish(ctx context.Context, topic string, evt eventsrc.DomainEvent) error
	// Subscribe creates a subscription to a topic and handles incoming
	// messages using the provided handler function.
	Subscribe(
		ctx context.Context,
		topic, subscriberID string,
		handler func(ctx context.Context, evt eventsrc.DomainEvent) error,
	) error
	// Close gracefully shuts down the broker connection.
	Close()
}
