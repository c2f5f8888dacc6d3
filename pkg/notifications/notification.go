package notifications

import (
	"slices"
	"time"
)

// Channel is a delivery channel tag.
type Channel string

const (
	ChannelInApp   Channel = "in_app"
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
)

// Channels lists every known channel in resolution order.
var Channels = []Channel{ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook}

// Interruptive reports whether the channel reaches the user outside the
// application and is therefore subject to quiet hours.
func (c Channel) Interruptive() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Type is a notification catalog entry.
type Type string

const (
	TypeOrderCreated     Type = "order_created"
	TypeOrderShipped     Type = "order_shipped"
	TypeOrderDelivered   Type = "order_delivered"
	TypePaymentReceived  Type = "payment_received"
	TypePaymentFailed    Type = "payment_failed"
	TypeAccountSecurity  Type = "account_security"
	TypeSystemAlert      Type = "system_alert"
	TypeCommentMention   Type = "comment_mention"
	TypeContentPublished Type = "content_published"
	TypeDigest           Type = "digest"
	TypeGeneric          Type = "generic"
)

// Types is the fixed notification catalog.
var Types = []Type{
	TypeOrderCreated, TypeOrderShipped, TypeOrderDelivered,
	TypePaymentReceived, TypePaymentFailed,
	TypeAccountSecurity, TypeSystemAlert,
	TypeCommentMention, TypeContentPublished,
	TypeDigest, TypeGeneric,
}

// Priority represents the notification priority level.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var Priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}

// Notification is one logical event addressed to one user. DeliveredChannels
// is always a subset of Channels.
type Notification struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	Type              Type           `json:"type"`
	Title             string         `json:"title"`
	Message           string         `json:"message"`
	Priority          Priority       `json:"priority"`
	Channels          []Channel      `json:"channels"`
	DeliveredChannels []Channel      `json:"delivered_channels"`
	Read              bool           `json:"read"`
	ReadAt            *time.Time     `json:"read_at,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Category          string         `json:"category,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
	Locale            string         `json:"locale,omitempty"`
	DeferredFrom      string         `json:"deferred_from,omitempty"`
	ScheduledFor      *time.Time     `json:"scheduled_for,omitempty"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// IsDue reports whether the notification may be delivered at now.
func (n Notification) IsDue(now time.Time) bool {
	return n.ScheduledFor == nil || !n.ScheduledFor.After(now)
}

// IsDelivered reports whether delivery has been processed, including the
// terminal case where no channel succeeded.
func (n Notification) IsDelivered() bool {
	return n.DeliveredAt != nil
}

func (n Notification) HasChannel(ch Channel) bool {
	return slices.Contains(n.Channels, ch)
}

// MarkAsRead flips the read flag. Already-read notifications keep their ReadAt.
func (n *Notification) MarkAsRead(at time.Time) bool {
	if n.Read {
		return false
	}
	n.Read = true
	n.ReadAt = &at
	return true
}

// MarkDelivered records the delivered subset and the delivery time.
func (n *Notification) MarkDelivered(channels []Channel, at time.Time) {
	n.DeliveredChannels = intersectChannels(n.Channels, channels)
	n.DeliveredAt = &at
}

// AddDelivered records ch as delivered when the notification targets it.
func (n *Notification) AddDelivered(ch Channel) {
	if !n.HasChannel(ch) || slices.Contains(n.DeliveredChannels, ch) {
		return
	}
	n.DeliveredChannels = intersectChannels(n.Channels, append(slices.Clone(n.DeliveredChannels), ch))
}

// intersectChannels keeps the elements of a that also appear in b, in a's
// order, without duplicates.
func intersectChannels(a, b []Channel) []Channel {
	out := make([]Channel, 0, len(a))
	for _, ch := range a {
		if slices.Contains(b, ch) && !slices.Contains(out, ch) {
			out = append(out, ch)
		}
	}
	return out
}

func subtractChannels(a, b []Channel) []Channel {
	out := make([]Channel, 0, len(a))
	for _, ch := range a {
		if !slices.Contains(b, ch) {
			out = append(out, ch)
		}
	}
	return out
}

func dedupeChannels(chs []Channel) []Channel {
	out := make([]Channel, 0, len(chs))
	for _, ch := range chs {
		if !slices.Contains(out, ch) {
			out = append(out, ch)
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
