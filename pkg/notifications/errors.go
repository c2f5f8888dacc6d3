package notifications

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("notifications: invalid input")
	ErrNotificationNotFound = errors.New("notifications: notification not found")
	ErrPreferencesNotFound  = errors.New("notifications: preferences not found")
	ErrPreferencesExist     = errors.New("notifications: preferences already exist")
	ErrForbidden            = errors.New("notifications: notification belongs to another user")
	ErrAlreadyDelivered     = errors.New("notifications: notification already delivered")
	ErrQueueFailure         = errors.New("notifications: failed to enqueue work")

	// ErrChannelUnavailable covers channels that cannot be used at all for
	// a send: no sender, not implemented, or disabled by the recipient.
	ErrChannelUnavailable    = errors.New("notifications: channel unavailable")
	ErrChannelNotImplemented = fmt.Errorf("%w: not implemented", ErrChannelUnavailable)
	ErrChannelDisabled       = fmt.Errorf("%w: disabled by preferences", ErrChannelUnavailable)

	// ErrDeliveryFailed covers attempts that were made and did not succeed.
	ErrDeliveryFailed   = errors.New("notifications: delivery failed")
	ErrNoActiveSessions = fmt.Errorf("%w: no active sessions", ErrDeliveryFailed)
	ErrQuietHours       = fmt.Errorf("%w: inside quiet hours", ErrDeliveryFailed)
	ErrNoRecipient      = fmt.Errorf("%w: no recipient address", ErrDeliveryFailed)
)

// ChannelError records the failure of a single channel.
type ChannelError struct {
	Channel Channel
	Err     error
}

func (e ChannelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Channel, e.Err)
}

func (e ChannelError) Unwrap() error { return e.Err }
