package notifications

import (
	"context"
	"time"
)

// NotificationStore persists notifications.
type NotificationStore interface {
	// Create stores a new notification.
	Create(ctx context.Context, n Notification) error

	// Get returns ErrNotificationNotFound for unknown ids.
	Get(ctx context.Context, id string) (Notification, error)

	List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	Stats(ctx context.Context, userID string) (Stats, error)

	// MarkDelivered stores the delivered subset of the notification's own
	// channels and stamps DeliveredAt. It returns ErrAlreadyDelivered when
	// DeliveredAt is already set.
	MarkDelivered(ctx context.Context, id string, channels []Channel, at time.Time) error

	// AddDeliveredChannel merges ch into the delivered channels. A channel
	// outside the notification's own set is ignored.
	AddDeliveredChannel(ctx context.Context, id string, ch Channel) error

	// MarkRead flips the read flag and reports whether it changed.
	MarkRead(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkAllRead marks every unread notification of the user and returns the count.
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)

	// ListDue returns undelivered notifications with ScheduledFor <= now,
	// oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Notification, error)

	// ListCreatedBefore returns notifications created before cutoff, oldest first.
	ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Notification, error)

	DeleteByIDs(ctx context.Context, ids []string) (int, error)

	// DeleteCreatedBefore removes every notification created before cutoff.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// PreferenceStore persists per-user preferences.
type PreferenceStore interface {
	// GetPreferences returns ErrPreferencesNotFound when the user has no row.
	GetPreferences(ctx context.Context, userID string) (Preferences, error)

	// CreatePreferences returns ErrPreferencesExist when a row already exists.
	CreatePreferences(ctx context.Context, p Preferences) error

	UpdatePreferences(ctx context.Context, p Preferences) error

	// ListDigestPreferences returns every row with digests enabled.
	ListDigestPreferences(ctx context.Context) ([]Preferences, error)
}

// Storage is the full persistence contract.
type Storage interface {
	NotificationStore
	PreferenceStore
}

// ListOptions provides filtering and pagination for List.
type ListOptions struct {
	Limit      int        // 0 = no limit
	Offset     int        // rows to skip
	OnlyUnread bool       // only unread notifications
	Types      []Type     // restrict to these types
	Category   string     // restrict to a category
	Since      *time.Time // created at or after
}

// Stats summarises a user's notifications.
type Stats struct {
	Total     int          `json:"total"`
	Unread    int          `json:"unread"`
	Scheduled int          `json:"scheduled"`
	ByType    map[Type]int `json:"by_type"`
}
