// Package scheduler runs the periodic notification jobs on cron schedules.
//
// Each job is guarded in-process against overlapping runs and, when a
// Locker is configured, across instances. A failing or panicking job is
// logged and recorded; it never stops the scheduler or other jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// Job is a named unit of periodic work.
type Job struct {
	Name string
	// Spec is a standard five-field cron expression or a descriptor such
	// as "@every 2m".
	Spec string
	// Timeout bounds a single run. Zero uses the scheduler default.
	Timeout time.Duration
	Run     JobFunc
}

// Locker takes a distributed lock for a job run. It matches
// redis.Locker.TryLock.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// Recorder observes job runs.
type Recorder interface {
	JobRun(job string, outcome Outcome, d time.Duration)
}

// Outcome classifies a finished run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// Status is a snapshot of a registered job.
type Status struct {
	Name      string     `json:"name"`
	Spec      string     `json:"spec"`
	Active    bool       `json:"active"`
	Running   bool       `json:"running"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type jobState struct {
	job     Job
	entryID cron.EntryID
	running atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// Scheduler owns a cron runner and the registered jobs.
type Scheduler struct {
	cron     *cron.Cron
	logger   *slog.Logger
	locker   Locker
	recorder Recorder
	timeout  time.Duration
	location *time.Location
	now      func() time.Time

	mu       sync.Mutex
	jobs     map[string]*jobState
	order    []string
	started  bool
	draining bool
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocker enables cross-instance exclusion for every job.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithTimeout sets the default per-run timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLocation sets the timezone cron specs are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a stopped scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:   slog.Default(),
		recorder: noopRecorder{},
		timeout:  5 * time.Minute,
		location: time.UTC,
		now:      time.Now,
		jobs:     make(map[string]*jobState),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("scheduler"))

	cl := cronLogger{log: s.logger}
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Register adds a job. Jobs must be registered before Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("%w: name and run function are required", ErrInvalidJob)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyActive
	}
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}

	st := &jobState{job: job}
	id, err := s.cron.AddFunc(job.Spec, func() {
		_ = s.execute(context.Background(), st)
	})
	if err != nil {
		return errors.Join(ErrInvalidJob, fmt.Errorf("job %s: %w", job.Name, err))
	}
	st.entryID = id
	s.jobs[job.Name] = st
	s.order = append(s.order, job.Name)
	return nil
}

// Start begins firing jobs. Calling it again is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", logger.Count(len(s.jobs)))
}

// Stop halts new runs and waits for running jobs or ctx, whichever is
// first. Runs requested while it drains fail with ErrStopping. Calling it
// on a stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.draining = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a job immediately in the caller's goroutine. It returns
// ErrJobRunning when the job is already in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	st, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.execute(ctx, st)
}

// Status reports every job in registration order.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	active := s.started
	states := make([]*jobState, 0, len(s.order))
	for _, name := range s.order {
		states = append(states, s.jobs[name])
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(states))
	for _, st := range states {
		status := Status{
			Name:    st.job.Name,
			Spec:    st.job.Spec,
			Active:  active,
			Running: st.running.Load(),
		}
		if active {
			if next := s.cron.Entry(st.entryID).Next; !next.IsZero() {
				status.NextRun = &next
			}
		}
		st.mu.Lock()
		if !st.lastRun.IsZero() {
			last := st.lastRun
			status.LastRun = &last
		}
		if st.lastErr != nil {
			status.LastError = st.lastErr.Error()
		}
		st.mu.Unlock()
		out = append(out, status)
	}
	return out
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

func (s *Scheduler) execute(ctx context.Context, st *jobState) (err error) {
	name := st.job.Name
	log := s.logger.With(logger.Job(name))

	if !st.running.CompareAndSwap(false, true) {
		log.Debug("job still running, skipping")
		s.recorder.JobRun(name, OutcomeSkipped, 0)
		return ErrJobRunning
	}
	defer st.running.Store(false)

	// wg.Add must not race the Wait in Stop.
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		log.Debug("scheduler stopping, skipping")
		s.recorder.JobRun(name, OutcomeSkipped, 0)
		return ErrStopping
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	timeout := st.job.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if s.locker != nil {
		release, acquired, lockErr := s.locker.TryLock(ctx, name, timeout)
		if lockErr != nil {
			log.Error("failed to acquire job lock", logger.Error(lockErr))
			s.finish(st, OutcomeError, 0, lockErr)
			return lockErr
		}
		if !acquired {
			log.Debug("job locked by another instance, skipping")
			s.recorder.JobRun(name, OutcomeSkipped, 0)
			return ErrLockHeld
		}
		defer func() {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				log.Warn("failed to release job lock", logger.Error(relErr))
			}
		}()
	}

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
		d := s.now().Sub(start)
		if err != nil {
			log.Error("job failed", logger.Error(err), logger.Duration(d))
			s.finish(st, OutcomeError, d, err)
			return
		}
		log.Info("job completed", logger.Duration(d))
		s.finish(st, OutcomeSuccess, d, nil)
	}()

	return st.job.Run(ctx)
}

func (s *Scheduler) finish(st *jobState, outcome Outcome, d time.Duration, err error) {
	st.mu.Lock()
	st.lastRun = s.now()
	st.lastErr = err
	st.mu.Unlock()
	s.recorder.JobRun(st.job.Name, outcome, d)
}

type noopRecorder struct{}

func (noopRecorder) JobRun(string, Outcome, time.Duration) {}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{logger.Error(err)}, keysAndValues...)...)
}
