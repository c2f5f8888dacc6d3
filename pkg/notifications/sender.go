package notifications

import (
	"context"
	"slices"
)

// Sender delivers a notification over one channel. A nil error means the
// channel accepted the notification.
type Sender interface {
	Send(ctx context.Context, n Notification, p Preferences) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, n Notification, p Preferences) error

func (f SenderFunc) Send(ctx context.Context, n Notification, p Preferences) error {
	return f(ctx, n, p)
}

// Route binds a sender to a channel.
type Route struct {
	Channel Channel
	Sender  Sender
}

// Registry maps channels to their senders. It is built once and not
// mutated afterwards.
type Registry struct {
	senders map[Channel]Sender
}

// NewRegistry builds a registry from routes. A later route for the same
// channel replaces an earlier one.
func NewRegistry(routes ...Route) *Registry {
	r := &Registry{senders: make(map[Channel]Sender, len(routes))}
	for _, route := range routes {
		if route.Sender != nil {
			r.senders[route.Channel] = route.Sender
		}
	}
	return r
}

// Lookup returns the sender for ch.
func (r *Registry) Lookup(ch Channel) (Sender, bool) {
	s, ok := r.senders[ch]
	return s, ok
}

// Channels lists registered channels in canonical order.
func (r *Registry) Channels() []Channel {
	out := make([]Channel, 0, len(r.senders))
	for _, ch := range Channels {
		if _, ok := r.senders[ch]; ok {
			out = append(out, ch)
		}
	}
	for ch := range r.senders {
		if !slices.Contains(out, ch) {
			out = append(out, ch)
		}
	}
	return out
}
