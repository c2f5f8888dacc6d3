package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
)

// Event names of frames the hub sends on its own.
const (
	EventError = "error"
	EventAck   = "ack"
)

// ServeWS upgrades the request and serves a session until either side
// closes it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := h.identify(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.DebugContext(r.Context(), "websocket upgrade failed", logger.UserID(userID), logger.Error(err))
		return
	}

	s := h.Attach(userID)
	if s == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.writeWait))
		_ = conn.Close()
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go h.writePump(conn, s)
	h.Replay(ctx, s)
	h.readPump(ctx, conn, s)
}

func (h *Hub) readPump(ctx context.Context, conn *websocket.Conn, s *Session) {
	defer h.Detach(s)

	conn.SetReadLimit(h.readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.DebugContext(ctx, "websocket closed unexpectedly", logger.UserID(s.UserID), logger.Error(err))
			}
			return
		}
		h.handleFrame(ctx, s, data)
	}
}

func (h *Hub) handleFrame(ctx context.Context, s *Session, data []byte) {
	var msg notifications.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.offer(Message{Event: EventError, Data: map[string]string{"error": "malformed message"}, At: h.now()})
		return
	}
	if h.inbound == nil {
		return
	}
	if err := h.inbound.HandleInbound(ctx, s.UserID, msg); err != nil {
		h.logger.DebugContext(ctx, "inbound message rejected",
			logger.UserID(s.UserID),
			slog.String("type", msg.Type),
			logger.Error(err),
		)
		s.offer(Message{Event: EventError, Data: map[string]string{"type": msg.Type, "id": msg.ID, "error": inboundError(err)}, At: h.now()})
		return
	}
	s.offer(Message{Event: EventAck, Data: map[string]string{"type": msg.Type, "id": msg.ID}, At: h.now()})
}

func (h *Hub) writePump(conn *websocket.Conn, s *Session) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg := <-s.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.Detach(s)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Detach(s)
				return
			}
		case <-s.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.writeWait))
			return
		}
	}
}

// Replay runs the connect handler for s. Frames go to s alone; other
// sessions of the same user already hold the backlog. It returns how many
// frames were replayed.
func (h *Hub) Replay(ctx context.Context, s *Session) int {
	if h.connect == nil || s == nil {
		return 0
	}
	push := func(event string, payload any) bool {
		return s.offer(Message{Event: event, Data: payload, At: h.now()})
	}
	n, err := h.connect.HandleConnect(ctx, s.UserID, push)
	if err != nil {
		h.logger.WarnContext(ctx, "unread replay failed", logger.UserID(s.UserID), logger.Error(err))
	}
	if n > 0 {
		h.logger.DebugContext(ctx, "unread notifications replayed",
			logger.UserID(s.UserID), slog.String("session_id", s.ID), logger.Count(n))
	}
	return n
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(h.allowOrigins, origin) || slices.Contains(h.allowOrigins, "*") {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

func inboundError(err error) string {
	switch {
	case errors.Is(err, notifications.ErrForbidden):
		return "forbidden"
	case errors.Is(err, notifications.ErrUnknownInbound):
		return "unknown message type"
	default:
		return "internal error"
	}
}
