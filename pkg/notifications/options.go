package notifications

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/queue"
)

// Recorder receives delivery measurements.
type Recorder interface {
	NotificationCreated(typ Type, scheduled bool)
	ChannelAttempt(ch Channel, err error, d time.Duration)
	BulkBatch(size int)
}

type noopRecorder struct{}

func (noopRecorder) NotificationCreated(Type, bool)               {}
func (noopRecorder) ChannelAttempt(Channel, error, time.Duration) {}
func (noopRecorder) BulkBatch(int)                                {}

// Enqueuer hands work to a durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) error
}

// Archiver stores notifications before retention removes them.
type Archiver interface {
	Archive(ctx context.Context, batch []Notification) error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the Manager.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithDeferDelay sets how long quiet-hours copies are postponed.
func WithDeferDelay(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.deferDelay = d
		}
	}
}

// WithBatcher replaces the bulk batcher.
func WithBatcher(b Batcher) ManagerOption {
	return func(m *Manager) { m.batcher = b }
}

// WithBatchSize sets how many bulk recipients run per batch.
func WithBatchSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.batcher.Size = n
		}
	}
}

// WithBatchPause sets the minimum interval between bulk batches.
func WithBatchPause(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d >= 0 {
			m.batcher.Pause = d
		}
	}
}

// WithRecorder sets the metrics hook.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithEnqueuer enables EnqueueBulk.
func WithEnqueuer(e Enqueuer) ManagerOption {
	return func(m *Manager) { m.enqueuer = e }
}

// WithArchiver makes Cleanup archive rows before deleting them.
func WithArchiver(a Archiver) ManagerOption {
	return func(m *Manager) { m.archiver = a }
}

// WithEventBuffer sets the per-subscriber event buffer.
func WithEventBuffer(n int) ManagerOption {
	return func(m *Manager) { m.eventBuffer = n }
}

// WithDueLimit caps how many due notifications one ProcessScheduled call handles.
func WithDueLimit(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.dueLimit = n
		}
	}
}

// WithReplayLimit caps how many unread notifications HandleConnect replays.
func WithReplayLimit(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.replayLimit = n
		}
	}
}
