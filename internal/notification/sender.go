package notification

import (
	"context"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

// Message is what a channel sender receives for one delivery.
type Message struct {
	DeliveryID     uint
	NotificationID uint
	UserID         uint
	Priority       entities.Priority
	Channel        *entities.NotificationChannel
	Address        string
	Subject        string
	Body           string
}

// ChannelSender delivers a message over one channel type. Errors should be
// marked with Permanent when retrying cannot help; anything else is retried.
type ChannelSender interface {
	Send(ctx context.Context, msg Message) (externalID string, err error)
}

// SenderFunc adapts a function to ChannelSender.
type SenderFunc func(ctx context.Context, msg Message) (string, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) (string, error) {
	return f(ctx, msg)
}
