package notifications

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// ReadOutcome is the result of MarkAsRead.
type ReadOutcome string

const (
	ReadMarked    ReadOutcome = "marked"
	ReadAlready   ReadOutcome = "already_read"
	ReadNotFound  ReadOutcome = "not_found"
	ReadForbidden ReadOutcome = "forbidden"
)

// Inbound message types sent by live clients.
const (
	InboundMarkRead    = "mark_read"
	InboundMarkAllRead = "mark_all_read"
)

// InboundMessage is a client signal received over the real-time transport.
type InboundMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// ErrUnknownInbound is returned for inbound messages with an unsupported type.
var ErrUnknownInbound = errors.New("unknown inbound message type")

// MarkAsRead marks a notification read on behalf of its owner. It never
// changes a notification owned by someone else and never flips a row that
// is already read.
func (m *Manager) MarkAsRead(ctx context.Context, id, userID string) (ReadOutcome, error) {
	n, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return ReadNotFound, nil
		}
		return "", err
	}
	if n.UserID != userID {
		return ReadForbidden, nil
	}
	if n.Read {
		return ReadAlready, nil
	}

	now := m.now()
	changed, err := m.store.MarkRead(ctx, id, now)
	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return ReadNotFound, nil
		}
		return "", err
	}
	if !changed {
		return ReadAlready, nil
	}

	m.publish(ctx, Event{Kind: EventRead, NotificationID: id, UserID: userID, At: now})
	return ReadMarked, nil
}

// MarkAllAsRead marks every unread notification of the user and returns
// how many changed.
func (m *Manager) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	now := m.now()
	count, err := m.store.MarkAllRead(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		m.publish(ctx, Event{Kind: EventReadAll, UserID: userID, Count: count, At: now})
	}
	return count, nil
}

// Get returns a notification owned by userID.
func (m *Manager) Get(ctx context.Context, id, userID string) (Notification, error) {
	n, err := m.store.Get(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if n.UserID != userID {
		return Notification{}, ErrForbidden
	}
	return n, nil
}

func (m *Manager) List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	return m.store.List(ctx, userID, opts)
}

func (m *Manager) CountUnread(ctx context.Context, userID string) (int, error) {
	return m.store.CountUnread(ctx, userID)
}

func (m *Manager) Stats(ctx context.Context, userID string) (Stats, error) {
	return m.store.Stats(ctx, userID)
}

// Preferences returns the user's preferences, creating defaults on first access.
func (m *Manager) Preferences(ctx context.Context, userID string) (Preferences, error) {
	return m.resolver.Preferences(ctx, userID)
}

// UpdatePreferences merges a partial update and stores the result.
func (m *Manager) UpdatePreferences(ctx context.Context, userID string, u PreferencesUpdate) (Preferences, error) {
	p, err := m.resolver.Preferences(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	u.Apply(&p)
	p.UpdatedAt = m.now()
	if err := p.Validate(); err != nil {
		return Preferences{}, err
	}
	if err := m.store.UpdatePreferences(ctx, p); err != nil {
		return Preferences{}, fmt.Errorf("update preferences: %w", err)
	}
	return p, nil
}

// PushFunc writes one frame to a single live session and reports whether
// the session accepted it.
type PushFunc func(event string, payload any) bool

// HandleConnect replays the user's unread in-app notifications, oldest
// first, through push, which writes to the connecting session only. A
// replayed notification gets in_app added to its delivered channels. It
// returns how many were pushed.
func (m *Manager) HandleConnect(ctx context.Context, userID string, push PushFunc) (int, error) {
	if push == nil {
		return 0, nil
	}
	if _, ok := m.registry.Lookup(ChannelInApp); !ok {
		return 0, nil
	}

	unread, err := m.store.List(ctx, userID, ListOptions{OnlyUnread: true, Limit: m.replayLimit})
	if err != nil {
		return 0, err
	}
	slices.Reverse(unread)

	sent := 0
	for _, n := range unread {
		if !n.HasChannel(ChannelInApp) || !n.IsDelivered() {
			continue
		}
		if !push(TransportEventNotification, n) {
			m.logger.DebugContext(ctx, "replay stopped, session not accepting", logger.UserID(userID), logger.Count(sent))
			break
		}
		sent++
		if slices.Contains(n.DeliveredChannels, ChannelInApp) {
			continue
		}
		if err := m.store.AddDeliveredChannel(ctx, n.ID, ChannelInApp); err != nil {
			return sent, fmt.Errorf("record replay of %s: %w", n.ID, err)
		}
	}
	return sent, nil
}

// HandleInbound applies a client signal from the real-time transport.
func (m *Manager) HandleInbound(ctx context.Context, userID string, msg InboundMessage) error {
	switch msg.Type {
	case InboundMarkRead:
		outcome, err := m.MarkAsRead(ctx, msg.ID, userID)
		if err != nil {
			return err
		}
		if outcome == ReadForbidden {
			return ErrForbidden
		}
		return nil
	case InboundMarkAllRead:
		_, err := m.MarkAllAsRead(ctx, userID)
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownInbound, msg.Type)
}
