package realtime

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/templates"
)

// ListSelector is the element new notification cards are prepended to.
const ListSelector = "#notifications"

// ServeSSE streams the session as datastar server-sent events. Each
// notification is rendered as a card and prepended to ListSelector; other
// frames are sent as signal patches.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	userID, err := h.identify(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	s := h.Attach(userID)
	if s == nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.Detach(s)

	sse := datastar.NewSSE(w, r)
	h.Replay(context.WithoutCancel(r.Context()), s)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.Done():
			return
		case msg := <-s.Messages():
			if err := patch(sse, msg); err != nil {
				h.logger.DebugContext(r.Context(), "sse write failed", logger.UserID(userID), logger.Error(err))
				return
			}
		}
	}
}

func patch(sse *datastar.ServerSentEventGenerator, msg Message) error {
	if n, ok := msg.Data.(notifications.Notification); ok && msg.Event == notifications.TransportEventNotification {
		return sse.PatchElementTempl(
			templates.Card(n.ID, n.Title, n.Message, n.Read),
			datastar.WithSelector(ListSelector),
			datastar.WithMode(datastar.ElementPatchModePrepend),
		)
	}
	signals, err := json.Marshal(map[string]any{
		"notify": map[string]any{"event": msg.Event, "data": msg.Data, "at": msg.At},
	})
	if err != nil {
		return err
	}
	return sse.PatchSignals(signals)
}
