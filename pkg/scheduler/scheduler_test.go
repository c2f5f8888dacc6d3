package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/scheduler"
)

type fakeMaintainer struct {
	mu          sync.Mutex
	due         int
	cleanups    []int
	digests     int
	dueErr      error
	panicDigest bool
}

func (f *fakeMaintainer) ProcessScheduled(context.Context, time.Time) ([]notifications.DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.due++
	return nil, f.dueErr
}

func (f *fakeMaintainer) Cleanup(_ context.Context, days int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, days)
	return 3, nil
}

func (f *fakeMaintainer) ProcessDigests(context.Context, time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicDigest {
		panic("digest exploded")
	}
	f.digests++
	return 1, nil
}

type runRecord struct {
	job     string
	outcome scheduler.Outcome
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []runRecord
}

func (r *fakeRecorder) JobRun(job string, outcome scheduler.Outcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, runRecord{job, outcome})
}

type fakeLocker struct {
	held     bool
	err      error
	released int
	keys     []string
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.released++
		return nil
	}, true, nil
}

func defaultConfig() scheduler.Config {
	return scheduler.Config{
		DueSpec:       "@every 2m",
		CleanupSpec:   "0 3 * * *",
		DigestSpec:    "0 8 * * *",
		RetentionDays: 90,
		JobTimeout:    time.Minute,
	}
}

func newScheduler(t *testing.T, m scheduler.Maintainer, opts ...scheduler.Option) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.New(append([]scheduler.Option{scheduler.WithLogger(logger.Discard())}, opts...)...)
	require.NoError(t, s.RegisterAll(scheduler.NotificationJobs(m, defaultConfig(), nil)...))
	return s
}

func TestRunNow(t *testing.T) {
	m := &fakeMaintainer{}
	rec := &fakeRecorder{}
	s := newScheduler(t, m, scheduler.WithRecorder(rec))
	ctx := context.Background()

	require.NoError(t, s.RunNow(ctx, scheduler.JobDueNotifications))
	require.NoError(t, s.RunNow(ctx, scheduler.JobRetentionCleanup))
	require.NoError(t, s.RunNow(ctx, scheduler.JobDigest))

	assert.Equal(t, 1, m.due)
	assert.Equal(t, []int{90}, m.cleanups)
	assert.Equal(t, 1, m.digests)
	assert.Equal(t, []runRecord{
		{scheduler.JobDueNotifications, scheduler.OutcomeSuccess},
		{scheduler.JobRetentionCleanup, scheduler.OutcomeSuccess},
		{scheduler.JobDigest, scheduler.OutcomeSuccess},
	}, rec.runs)

	err := s.RunNow(ctx, "unknown")
	assert.ErrorIs(t, err, scheduler.ErrJobNotFound)
}

func TestRunNow_FailureIsIsolated(t *testing.T) {
	boom := errors.New("db down")
	m := &fakeMaintainer{dueErr: boom, panicDigest: true}
	rec := &fakeRecorder{}
	s := newScheduler(t, m, scheduler.WithRecorder(rec))
	ctx := context.Background()

	assert.ErrorIs(t, s.RunNow(ctx, scheduler.JobDueNotifications), boom)
	assert.ErrorIs(t, s.RunNow(ctx, scheduler.JobDigest), scheduler.ErrJobPanicked)
	require.NoError(t, s.RunNow(ctx, scheduler.JobRetentionCleanup))

	statuses := s.Status()
	require.Len(t, statuses, 3)
	assert.Equal(t, "db down", statuses[0].LastError)
	assert.NotNil(t, statuses[0].LastRun)
	assert.Empty(t, statuses[1].LastError)
	assert.Contains(t, statuses[2].LastError, "digest exploded")
	assert.Equal(t, scheduler.OutcomeError, rec.runs[0].outcome)
	assert.Equal(t, scheduler.OutcomeError, rec.runs[1].outcome)
	assert.Equal(t, scheduler.OutcomeSuccess, rec.runs[2].outcome)
}

func TestRunNow_SkipsOverlappingRun(t *testing.T) {
	s := scheduler.New(scheduler.WithLogger(logger.Discard()))
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Register(scheduler.Job{
		Name: "slow",
		Spec: "@every 1h",
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started

	assert.True(t, s.Status()[0].Running)
	assert.ErrorIs(t, s.RunNow(context.Background(), "slow"), scheduler.ErrJobRunning)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.Status()[0].Running)
}

func TestRunNow_DistributedLock(t *testing.T) {
	ctx := context.Background()

	t.Run("acquired and released", func(t *testing.T) {
		m := &fakeMaintainer{}
		locker := &fakeLocker{}
		s := newScheduler(t, m, scheduler.WithLocker(locker))

		require.NoError(t, s.RunNow(ctx, scheduler.JobDigest))
		assert.Equal(t, 1, m.digests)
		assert.Equal(t, []string{scheduler.JobDigest}, locker.keys)
		assert.Equal(t, 1, locker.released)
	})

	t.Run("held elsewhere", func(t *testing.T) {
		m := &fakeMaintainer{}
		rec := &fakeRecorder{}
		s := newScheduler(t, m, scheduler.WithLocker(&fakeLocker{held: true}), scheduler.WithRecorder(rec))

		assert.ErrorIs(t, s.RunNow(ctx, scheduler.JobDigest), scheduler.ErrLockHeld)
		assert.Zero(t, m.digests)
		assert.Equal(t, []runRecord{{scheduler.JobDigest, scheduler.OutcomeSkipped}}, rec.runs)
	})

	t.Run("locker error", func(t *testing.T) {
		m := &fakeMaintainer{}
		boom := errors.New("redis unreachable")
		s := newScheduler(t, m, scheduler.WithLocker(&fakeLocker{err: boom}))

		assert.ErrorIs(t, s.RunNow(ctx, scheduler.JobDigest), boom)
		assert.Zero(t, m.digests)
		assert.Equal(t, "redis unreachable", s.Status()[2].LastError)
	})
}

func TestRegister(t *testing.T) {
	s := scheduler.New(scheduler.WithLogger(logger.Discard()))
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Register(scheduler.Job{Name: "a", Spec: "*/5 * * * *", Run: noop}))
	assert.ErrorIs(t, s.Register(scheduler.Job{Name: "a", Spec: "@hourly", Run: noop}), scheduler.ErrJobExists)
	assert.ErrorIs(t, s.Register(scheduler.Job{Name: "b", Spec: "not a spec", Run: noop}), scheduler.ErrInvalidJob)
	assert.ErrorIs(t, s.Register(scheduler.Job{Name: "c", Spec: "@hourly"}), scheduler.ErrInvalidJob)

	s.Start()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	assert.ErrorIs(t, s.Register(scheduler.Job{Name: "d", Spec: "@hourly", Run: noop}), scheduler.ErrAlreadyActive)
	assert.Equal(t, []string{"a"}, s.Jobs())
}

func TestStartStop(t *testing.T) {
	s := newScheduler(t, &fakeMaintainer{})

	for _, st := range s.Status() {
		assert.False(t, st.Active)
		assert.Nil(t, st.NextRun)
	}

	s.Start()
	s.Start()

	statuses := s.Status()
	require.Len(t, statuses, 3)
	for _, st := range statuses {
		assert.True(t, st.Active, st.Name)
		require.NotNil(t, st.NextRun, st.Name)
		assert.True(t, st.NextRun.After(time.Now().Add(-time.Second)), st.Name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Status()[0].Active)
}

func TestStop_RejectsRunsWhileDraining(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	s := scheduler.New(scheduler.WithLogger(logger.Discard()))
	require.NoError(t, s.RegisterAll(
		scheduler.Job{Name: "slow", Spec: "@every 1h", Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		}},
		scheduler.Job{Name: "quick", Spec: "@every 1h", Run: func(context.Context) error { return nil }},
	))
	s.Start()

	ctx := context.Background()
	slowDone := make(chan error, 1)
	go func() { slowDone <- s.RunNow(ctx, "slow") }()
	<-started

	stopDone := make(chan error, 1)
	go func() { stopDone <- s.Stop(ctx) }()

	assert.Eventually(t, func() bool {
		return errors.Is(s.RunNow(ctx, "quick"), scheduler.ErrStopping)
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-slowDone)
	require.NoError(t, <-stopDone)

	require.NoError(t, s.RunNow(ctx, "quick"), "manual runs work again once stopped")
}

func TestNotificationJobs_SkipsEmptySpecs(t *testing.T) {
	cfg := defaultConfig()
	cfg.DigestSpec = ""

	jobs := scheduler.NotificationJobs(&fakeMaintainer{}, cfg, nil)
	require.Len(t, jobs, 2)
	assert.Equal(t, scheduler.JobDueNotifications, jobs[0].Name)
	assert.Equal(t, scheduler.JobRetentionCleanup, jobs[1].Name)
	assert.Equal(t, time.Minute, jobs[1].Timeout)
}
