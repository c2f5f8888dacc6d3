package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/queue"
)

// BulkJob is the queued payload executed by BulkHandler.
type BulkJob struct {
	Request BulkRequest `json:"request"`
}

// SendBulk sends the template to every recipient in paced batches.
// Results are in recipient order. A recipient whose send fails or panics
// gets a failed result without affecting the others. When ctx ends between
// batches the remaining recipients are reported failed with the context
// error.
func (m *Manager) SendBulk(ctx context.Context, req BulkRequest) ([]DeliveryResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	results := make([]DeliveryResult, len(req.UserIDs))

	b := m.batcher
	hook := b.OnBatch
	b.OnBatch = func(index, size int) {
		m.recorder.BulkBatch(size)
		m.logger.DebugContext(ctx, "bulk batch started", slog.Int("batch", index), logger.Count(size))
		if hook != nil {
			hook(index, size)
		}
	}

	processed, err := b.Run(ctx, len(req.UserIDs), func(ctx context.Context, i int) {
		results[i] = m.sendRecipient(ctx, req.forUser(req.UserIDs[i]))
	})
	if err != nil {
		m.logger.WarnContext(ctx, "bulk send interrupted",
			logger.Count(len(req.UserIDs)-processed), logger.Error(err))
		for i := processed; i < len(req.UserIDs); i++ {
			r := req.forUser(req.UserIDs[i])
			results[i] = failedResult(r.UserID, m.recipientChannels(ctx, r), err)
		}
	}
	return results, nil
}

func (m *Manager) sendRecipient(ctx context.Context, req SendRequest) (res DeliveryResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: recipient panicked: %v", ErrDeliveryFailed, r)
			m.logger.ErrorContext(ctx, "bulk recipient panicked", logger.UserID(req.UserID), logger.Error(err))
			res = failedResult(req.UserID, m.recipientChannels(ctx, req), err)
		}
	}()

	out, err := m.Send(ctx, req)
	if err != nil {
		m.logger.WarnContext(ctx, "bulk recipient failed", logger.UserID(req.UserID), logger.Error(err))
		return failedResult(req.UserID, m.recipientChannels(ctx, req), err)
	}
	return out
}

// recipientChannels returns the requested channels, or the channels the
// stored preferences would resolve to.
func (m *Manager) recipientChannels(ctx context.Context, req SendRequest) []Channel {
	if len(req.Channels) > 0 {
		return dedupeChannels(req.Channels)
	}
	p, err := m.store.GetPreferences(context.WithoutCancel(ctx), req.UserID)
	if err != nil {
		return nil
	}
	return ResolveChannels(p, req.Type, nil)
}

// EnqueueBulk hands a bulk request to the durable queue.
func (m *Manager) EnqueueBulk(ctx context.Context, req BulkRequest, opts ...queue.EnqueueOption) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if m.enqueuer == nil {
		return fmt.Errorf("%w: no queue configured", ErrQueueFailure)
	}
	if err := m.enqueuer.Enqueue(ctx, BulkJob{Request: req}, opts...); err != nil {
		return errors.Join(ErrQueueFailure, err)
	}
	return nil
}

// BulkHandler returns the queue handler executing BulkJob payloads.
// Per-recipient failures are final; only an invalid job is reported back
// to the queue.
func (m *Manager) BulkHandler() queue.Handler {
	return queue.NewTaskHandler(func(ctx context.Context, job BulkJob) error {
		results, err := m.SendBulk(ctx, job.Request)
		if err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			if !r.OK() {
				failed++
			}
		}
		m.logger.InfoContext(ctx, "bulk job finished",
			logger.Count(len(results)), slog.Int("failed", failed))
		return nil
	})
}
