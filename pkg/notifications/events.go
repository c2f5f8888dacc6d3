package notifications

import (
	"time"
)

// EventKind names a lifecycle event published by the Manager.
type EventKind string

const (
	EventDelivered EventKind = "delivered"
	EventScheduled EventKind = "scheduled"
	EventDeferred  EventKind = "deferred"
	EventRead      EventKind = "read"
	EventReadAll   EventKind = "read_all"
)

// Event is published on the Manager's subscription stream.
type Event struct {
	Kind           EventKind `json:"kind"`
	NotificationID string    `json:"notification_id,omitempty"`
	UserID         string    `json:"user_id"`
	Channels       []Channel `json:"channels,omitempty"`
	Count          int       `json:"count,omitempty"`
	At             time.Time `json:"at"`
}
