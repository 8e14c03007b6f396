package messaging

import (
	"context"
)

// Channels published by this service
const (
	ChannelDocumentChanges    = "document.changes"
	ChannelNotificationResult = "notifications.delivery"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Publisher defines the interface for publishing messages
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}
