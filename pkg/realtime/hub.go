// Package realtime pushes notifications to connected users over WebSocket
// and server-sent events.
//
// A Hub keeps every open session per user. SendToUser never blocks: each
// session has a bounded outbox and a full outbox drops the message for that
// session only.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/broadcast"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Message is one frame pushed to a session.
type Message struct {
	Event string    `json:"event"`
	Data  any       `json:"data"`
	At    time.Time `json:"at"`
}

// PresenceKind tells whether a session opened or closed.
type PresenceKind string

const (
	PresenceConnected    PresenceKind = "connected"
	PresenceDisconnected PresenceKind = "disconnected"
)

// PresenceEvent is published on Hub.Events.
type PresenceEvent struct {
	Kind      PresenceKind
	UserID    string
	SessionID string
	Sessions  int
}

// Session is one open connection of a user.
type Session struct {
	ID     string
	UserID string

	out       chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// Messages returns the session outbox.
func (s *Session) Messages() <-chan Message { return s.out }

// Done is closed once the session is detached.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) offer(msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub tracks sessions by user. Safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	closed   bool

	buffer   int
	events   *broadcast.MemoryBroadcaster[PresenceEvent]
	logger   *slog.Logger
	now      func() time.Time
	identify IdentityFunc
	inbound  InboundHandler
	connect  ConnectHandler

	pingPeriod   time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
	readLimit    int64
	allowOrigins []string
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		sessions:   make(map[string]map[*Session]struct{}),
		buffer:     64,
		logger:     slog.Default(),
		now:        time.Now,
		identify:   HeaderIdentity(DefaultUserHeader),
		pongWait:   60 * time.Second,
		writeWait:  10 * time.Second,
		readLimit:  4096,
		pingPeriod: 54 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(logger.Component("realtime"))
	h.events = broadcast.NewMemoryBroadcaster[PresenceEvent](h.buffer)
	return h
}

// Attach opens a session for userID. It returns nil once the hub is closed.
func (h *Hub) Attach(userID string) *Session {
	s := &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		out:    make(chan Message, h.buffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	set, ok := h.sessions[userID]
	if !ok {
		set = make(map[*Session]struct{})
		h.sessions[userID] = set
	}
	set[s] = struct{}{}
	count := len(set)
	h.mu.Unlock()

	h.logger.Debug("session attached", logger.UserID(userID), slog.String("session_id", s.ID), logger.Count(count))
	h.publish(PresenceEvent{Kind: PresenceConnected, UserID: userID, SessionID: s.ID, Sessions: count})
	return s
}

// Detach closes s and forgets it. Detaching twice is a no-op.
func (h *Hub) Detach(s *Session) {
	if s == nil {
		return
	}
	h.mu.Lock()
	set, ok := h.sessions[s.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, s)
	count := len(set)
	if count == 0 {
		delete(h.sessions, s.UserID)
	}
	h.mu.Unlock()

	s.close()
	h.logger.Debug("session detached", logger.UserID(s.UserID), slog.String("session_id", s.ID), logger.Count(count))
	h.publish(PresenceEvent{Kind: PresenceDisconnected, UserID: s.UserID, SessionID: s.ID, Sessions: count})
}

// SendToUser queues payload on every session of userID and returns how
// many sessions accepted it.
func (h *Hub) SendToUser(ctx context.Context, userID, event string, payload any) int {
	msg := Message{Event: event, Data: payload, At: h.now()}

	h.mu.RLock()
	defer h.mu.RUnlock()

	accepted := 0
	for s := range h.sessions[userID] {
		if s.offer(msg) {
			accepted++
			continue
		}
		h.logger.WarnContext(ctx, "session outbox full, message dropped",
			logger.UserID(userID),
			slog.String("session_id", s.ID),
			slog.String("event", event),
		)
	}
	return accepted
}

// Sessions returns the number of open sessions of userID.
func (h *Hub) Sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// Online returns the number of users with at least one session.
func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Events streams presence changes until ctx is done.
func (h *Hub) Events(ctx context.Context) broadcast.Subscriber[PresenceEvent] {
	return h.events.Subscribe(ctx)
}

// Close detaches every session and ends all event subscriptions.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	var all []*Session
	for _, set := range h.sessions {
		for s := range set {
			all = append(all, s)
		}
	}
	h.sessions = make(map[string]map[*Session]struct{})
	h.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	return h.events.Close()
}

func (h *Hub) publish(e PresenceEvent) {
	_ = h.events.Broadcast(context.Background(), broadcast.Message[PresenceEvent]{Data: e})
}
