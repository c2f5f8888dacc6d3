package realtime

import (
	"context"

	"github.com/dmitrymomot/notifykit/pkg/broadcast"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
)

// Forward relays read-state events to the user's sessions so every open
// tab stays in sync. It returns when ctx is done or sub is closed.
func (h *Hub) Forward(ctx context.Context, sub broadcast.Subscriber[notifications.Event]) {
	defer func() { _ = sub.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Receive():
			if !ok {
				return
			}
			e := msg.Data
			switch e.Kind {
			case notifications.EventRead, notifications.EventReadAll:
				h.SendToUser(ctx, e.UserID, "notification."+string(e.Kind), e)
			}
		}
	}
}
