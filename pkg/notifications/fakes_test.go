package notifications_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
)

type fakeTransport struct {
	mu       sync.Mutex
	sessions map[string]int
	pushed   []notifications.Notification
}

func newFakeTransport(online ...string) *fakeTransport {
	t := &fakeTransport{sessions: make(map[string]int)}
	for _, u := range online {
		t.sessions[u] = 1
	}
	return t
}

func (t *fakeTransport) SendToUser(_ context.Context, userID, _ string, payload any) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.sessions[userID]
	if n > 0 {
		if v, ok := payload.(notifications.Notification); ok {
			t.pushed = append(t.pushed, v)
		}
	}
	return n
}

func (t *fakeTransport) Pushed() []notifications.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]notifications.Notification(nil), t.pushed...)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []email.SendEmailParams
	err  error
}

func (m *fakeMailer) SendEmail(_ context.Context, p email.SendEmailParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, p)
	return nil
}

func (m *fakeMailer) Sent() []email.SendEmailParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]email.SendEmailParams(nil), m.sent...)
}

// countingSender records every attempt and fails for the listed users.
type countingSender struct {
	mu       sync.Mutex
	attempts map[string]int
	failFor  map[string]bool
	panicFor map[string]bool
}

func newCountingSender() *countingSender {
	return &countingSender{attempts: make(map[string]int), failFor: make(map[string]bool), panicFor: make(map[string]bool)}
}

func (s *countingSender) Send(_ context.Context, n notifications.Notification, _ notifications.Preferences) error {
	s.mu.Lock()
	s.attempts[n.UserID]++
	fail, boom := s.failFor[n.UserID], s.panicFor[n.UserID]
	s.mu.Unlock()

	if boom {
		panic("provider exploded")
	}
	if fail {
		return errors.Join(notifications.ErrDeliveryFailed, errors.New("provider rejected"))
	}
	return nil
}

func (s *countingSender) Attempts(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[userID]
}

type recordedDispatch struct {
	event   string
	payload any
	ctxErr  error
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []recordedDispatch
	err   error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, event string, payload any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, recordedDispatch{event: event, payload: payload, ctxErr: ctx.Err()})
	return d.err
}

type fakeArchiver struct {
	mu      sync.Mutex
	batches [][]notifications.Notification
	err     error
}

func (a *fakeArchiver) Archive(_ context.Context, batch []notifications.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.batches = append(a.batches, batch)
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	created  int
	attempts map[notifications.Channel]int
	batches  []int
}

func (r *fakeRecorder) NotificationCreated(notifications.Type, bool) {
	r.mu.Lock()
	r.created++
	r.mu.Unlock()
}

func (r *fakeRecorder) ChannelAttempt(ch notifications.Channel, _ error, _ time.Duration) {
	r.mu.Lock()
	if r.attempts == nil {
		r.attempts = make(map[notifications.Channel]int)
	}
	r.attempts[ch]++
	r.mu.Unlock()
}

func (r *fakeRecorder) BulkBatch(size int) {
	r.mu.Lock()
	r.batches = append(r.batches, size)
	r.mu.Unlock()
}

// failingMark refuses to record deliveries.
type failingMark struct {
	*notifications.MemoryStorage
	err error
}

func (s failingMark) MarkDelivered(context.Context, string, []notifications.Channel, time.Time) error {
	return s.err
}

// failingCreate rejects notifications for the listed users.
type failingCreate struct {
	*notifications.MemoryStorage
	users map[string]bool
}

func (s failingCreate) Create(ctx context.Context, n notifications.Notification) error {
	if s.users[n.UserID] {
		return errors.New("insert failed")
	}
	return s.MemoryStorage.Create(ctx, n)
}
