package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/notifications"
)

// Job names of the notification maintenance jobs.
const (
	JobDueNotifications = "due_notifications"
	JobRetentionCleanup = "retention_cleanup"
	JobDigest           = "digest"
)

// Maintainer is the part of notifications.Manager the jobs drive.
type Maintainer interface {
	ProcessScheduled(ctx context.Context, now time.Time) ([]notifications.DeliveryResult, error)
	Cleanup(ctx context.Context, olderThanDays int) (int, error)
	ProcessDigests(ctx context.Context, now time.Time) (int, error)
}

// NotificationJobs builds the due-delivery, retention and digest jobs.
// A job whose spec is empty is left out.
func NotificationJobs(m Maintainer, cfg Config, now func() time.Time) []Job {
	if now == nil {
		now = time.Now
	}
	jobs := []Job{
		{
			Name: JobDueNotifications,
			Spec: cfg.DueSpec,
			Run: func(ctx context.Context) error {
				_, err := m.ProcessScheduled(ctx, now())
				return err
			},
		},
		{
			Name: JobRetentionCleanup,
			Spec: cfg.CleanupSpec,
			Run: func(ctx context.Context) error {
				if _, err := m.Cleanup(ctx, cfg.RetentionDays); err != nil {
					return fmt.Errorf("cleanup older than %d days: %w", cfg.RetentionDays, err)
				}
				return nil
			},
		},
		{
			Name: JobDigest,
			Spec: cfg.DigestSpec,
			Run: func(ctx context.Context) error {
				_, err := m.ProcessDigests(ctx, now())
				return err
			},
		},
	}

	out := jobs[:0]
	for _, j := range jobs {
		if j.Spec != "" {
			j.Timeout = cfg.JobTimeout
			out = append(out, j)
		}
	}
	return out
}

// RegisterAll registers jobs in order and stops at the first error.
func (s *Scheduler) RegisterAll(jobs ...Job) error {
	for _, j := range jobs {
		if err := s.Register(j); err != nil {
			return err
		}
	}
	return nil
}
