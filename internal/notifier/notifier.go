package notifier

import (
	"context"
	"errors"
	"fmt"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// ErrUnsupportedChannel is returned when no notifier handles a channel.
var ErrUnsupportedChannel = errors.New("unsupported channel")

// Message is one rendered notification for one recipient.
type Message struct {
	Channel Channel
	To      string // email address or E.164 phone number
	Name    string // recipient display name
	Subject string
	Body    string
}

// Notifier defines the interface for delivering a message.
type Notifier interface {
	// Send hands the message to the underlying service. A nil error means the
	// service accepted it.
	Send(ctx context.Context, msg Message) error
}

// Router dispatches messages by channel.
type Router struct {
	routes map[Channel]Notifier
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[Channel]Notifier)}
}

// Handle registers n for channel c, replacing any previous notifier.
func (r *Router) Handle(c Channel, n Notifier) *Router {
	r.routes[c] = n
	return r
}

// Send forwards msg to the notifier registered for its channel.
func (r *Router) Send(ctx context.Context, msg Message) error {
	n, ok := r.routes[msg.Channel]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, msg.Channel)
	}
	return n.Send(ctx, msg)
}
