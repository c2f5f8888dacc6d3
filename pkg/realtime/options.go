package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/notifications"
)

// DefaultUserHeader carries the authenticated user id set by the auth layer.
const DefaultUserHeader = "X-User-ID"

var ErrUnauthenticated = errors.New("realtime: missing user identity")

// IdentityFunc extracts the user id of an incoming connection.
type IdentityFunc func(r *http.Request) (string, error)

// HeaderIdentity reads the user id from header, falling back to the
// user_id query parameter for browser WebSocket and EventSource clients.
func HeaderIdentity(header string) IdentityFunc {
	return func(r *http.Request) (string, error) {
		if id := r.Header.Get(header); id != "" {
			return id, nil
		}
		if id := r.URL.Query().Get("user_id"); id != "" {
			return id, nil
		}
		return "", ErrUnauthenticated
	}
}

// InboundHandler applies client signals such as mark_read.
type InboundHandler interface {
	HandleInbound(ctx context.Context, userID string, msg notifications.InboundMessage) error
}

// ConnectHandler runs once a session is attached, typically replaying
// unread notifications. push writes to the new session only.
type ConnectHandler interface {
	HandleConnect(ctx context.Context, userID string, push notifications.PushFunc) (int, error)
}

// Option configures a Hub.
type Option func(*Hub)

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithBuffer sets the outbox size of every session.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithIdentity(fn IdentityFunc) Option {
	return func(h *Hub) {
		if fn != nil {
			h.identify = fn
		}
	}
}

func WithInboundHandler(ih InboundHandler) Option {
	return func(h *Hub) { h.inbound = ih }
}

func WithConnectHandler(ch ConnectHandler) Option {
	return func(h *Hub) { h.connect = ch }
}

// WithKeepalive sets the pong wait; pings go out at 9/10 of it.
func WithKeepalive(pongWait time.Duration) Option {
	return func(h *Hub) {
		if pongWait > 0 {
			h.pongWait = pongWait
			h.pingPeriod = pongWait * 9 / 10
		}
	}
}

// WithAllowedOrigins restricts WebSocket upgrades to the given origins.
// Without it only same-origin requests are accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Hub) { h.allowOrigins = append(h.allowOrigins, origins...) }
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}
