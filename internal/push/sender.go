// Package push delivers messages to the push-messaging endpoint.
package push

import (
	"context"
	"time"
)

// Message is a single push addressed to one device token.
type Message struct {
	Token    string
	Title    string
	Body     string
	Data     map[string]string
	Priority string
	Android  AndroidOptions
	APNS     APNSOptions
}

type AndroidOptions struct {
	ChannelID string
	Icon      string
	Color     string
	Sound     string
}

type APNSOptions struct {
	Sound string
	Badge int
}

// Sender sends one message and returns the provider's message id. Failures
// are Delivery AppErrors carrying the provider code.
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// DefaultAndroid and DefaultAPNS are the platform options every push carries.
var (
	DefaultAndroid = AndroidOptions{
		ChannelID: "default",
		Icon:      "ic_notification",
		Color:     "#4CAF50",
		Sound:     "default",
	}
	DefaultAPNS = APNSOptions{Sound: "default", Badge: 1}
)

// NewMessage builds a message with the default platform options and stamps
// the data payload with the send time.
func NewMessage(token, title, body string, data map[string]string, priority string, now time.Time) *Message {
	payload := make(map[string]string, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["timestamp"] = now.UTC().Format(time.RFC3339)
	if priority == "" {
		priority = "high"
	}
	return &Message{
		Token:    token,
		Title:    title,
		Body:     body,
		Data:     payload,
		Priority: priority,
		Android:  DefaultAndroid,
		APNS:     DefaultAPNS,
	}
}
