package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// ProcessScheduled delivers every due notification once. The stored
// channel set is kept; current preferences drive quiet hours and the
// senders. A failing notification does not stop the run; storage errors
// are joined into the returned error.
func (m *Manager) ProcessScheduled(ctx context.Context, now time.Time) ([]DeliveryResult, error) {
	due, err := m.store.ListDue(ctx, now, m.dueLimit)
	if err != nil {
		return nil, fmt.Errorf("list due notifications: %w", err)
	}

	results := make([]DeliveryResult, 0, len(due))
	var errs []error
	for _, n := range due {
		if err := ctx.Err(); err != nil {
			return results, errors.Join(append(errs, err)...)
		}

		prefs, err := m.resolver.Preferences(ctx, n.UserID)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to load preferences for scheduled notification",
				logger.NotificationID(n.ID), logger.UserID(n.UserID), logger.Error(err))
			errs = append(errs, err)
			continue
		}
		res, err := m.deliver(ctx, n, prefs, now)
		if err != nil {
			m.logger.ErrorContext(ctx, "scheduled notification not recorded",
				logger.NotificationID(n.ID), logger.UserID(n.UserID), logger.Error(err))
			errs = append(errs, err)
		}
		results = append(results, res)
	}

	if len(due) > 0 {
		m.logger.InfoContext(ctx, "processed scheduled notifications", logger.Count(len(results)))
	}
	return results, errors.Join(errs...)
}

// Cleanup deletes notifications older than the retention window. With an
// archiver configured, rows are archived batch by batch before deletion
// and a failed archive leaves the batch in place.
func (m *Manager) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays <= 0 {
		return 0, errors.Join(ErrValidation, fmt.Errorf("retention days must be positive, got %d", olderThanDays))
	}
	cutoff := m.now().AddDate(0, 0, -olderThanDays)

	if m.archiver == nil {
		removed, err := m.store.DeleteCreatedBefore(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("delete expired notifications: %w", err)
		}
		m.logger.InfoContext(ctx, "retention cleanup finished", logger.Count(removed))
		return removed, nil
	}

	size := m.batcher.Size
	if size <= 0 {
		size = DefaultBatchSize
	}

	removed := 0
	for {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		batch, err := m.store.ListCreatedBefore(ctx, cutoff, size)
		if err != nil {
			return removed, fmt.Errorf("list expired notifications: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		if err := m.archiver.Archive(ctx, batch); err != nil {
			return removed, fmt.Errorf("archive expired notifications: %w", err)
		}

		ids := make([]string, len(batch))
		for i, n := range batch {
			ids[i] = n.ID
		}
		count, err := m.store.DeleteByIDs(ctx, ids)
		if err != nil {
			return removed, fmt.Errorf("delete archived notifications: %w", err)
		}
		removed += count
		if count == 0 {
			break
		}
	}

	m.logger.InfoContext(ctx, "retention cleanup finished", logger.Count(removed))
	return removed, nil
}

// ProcessDigests sends one digest per user whose digest period elapsed and
// who has unread notifications in that period. It returns the number of
// digests sent.
func (m *Manager) ProcessDigests(ctx context.Context, now time.Time) (int, error) {
	prefs, err := m.store.ListDigestPreferences(ctx)
	if err != nil {
		return 0, fmt.Errorf("list digest preferences: %w", err)
	}

	sent := 0
	for _, p := range prefs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if !p.DigestDue(now) {
			continue
		}

		ok, err := m.sendDigest(ctx, p, now)
		if err != nil {
			m.logger.ErrorContext(ctx, "digest failed", logger.UserID(p.UserID), logger.Error(err))
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

func (m *Manager) sendDigest(ctx context.Context, p Preferences, now time.Time) (bool, error) {
	since := now.Add(-p.Digest.Frequency.Period())
	if p.Digest.LastSentAt != nil && p.Digest.LastSentAt.After(since) {
		since = *p.Digest.LastSentAt
	}

	unread, err := m.store.List(ctx, p.UserID, ListOptions{OnlyUnread: true, Since: &since})
	if err != nil {
		return false, err
	}
	count := 0
	byType := make(map[Type]int)
	for _, n := range unread {
		if n.Type == TypeDigest {
			continue
		}
		count++
		byType[n.Type]++
	}

	sent := false
	if count > 0 {
		req := SendRequest{
			UserID:   p.UserID,
			Type:     TypeDigest,
			Title:    fmt.Sprintf("You have %d unread notifications", count),
			Message:  fmt.Sprintf("%d notifications arrived since %s.", count, since.In(p.Location()).Format("Jan 2, 15:04")),
			Channels: p.Digest.Channels,
			Metadata: map[string]any{"count": count, "since": since, "by_type": byType},
		}
		if _, err := m.Send(ctx, req); err != nil {
			return false, err
		}
		sent = true
	}

	p.Digest.LastSentAt = &now
	p.UpdatedAt = now
	if err := m.store.UpdatePreferences(ctx, p); err != nil {
		return sent, fmt.Errorf("stamp digest: %w", err)
	}
	return sent, nil
}
