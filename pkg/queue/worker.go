package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// WorkerRepository defines the storage operations a Worker needs.
type WorkerRepository interface {
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lock time.Duration) (*Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID) error
	FailTask(ctx context.Context, taskID uuid.UUID, errMsg string) error
}

// Worker processes tasks from the queue.
type Worker struct {
	repo     WorkerRepository
	id       uuid.UUID
	queues   []string
	interval time.Duration
	lock     time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	sem      chan struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

func WithQueues(queues ...string) WorkerOption {
	return func(w *Worker) {
		if len(queues) > 0 {
			w.queues = queues
		}
	}
}

func WithPullInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLockTimeout bounds a single task run; it is also the handler timeout.
func WithLockTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lock = d
		}
	}
}

func WithMaxConcurrentTasks(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.sem = make(chan struct{}, n)
		}
	}
}

func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker creates a new task worker.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	w := &Worker{
		repo:     repo,
		id:       uuid.New(),
		queues:   []string{DefaultQueueName},
		interval: time.Second,
		lock:     5 * time.Minute,
		logger:   slog.Default(),
		handlers: make(map[string]Handler),
		sem:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(logger.Component("queue.worker"), slog.String("worker_id", w.id.String()))
	return w, nil
}

// RegisterHandlers registers task handlers by name.
func (w *Worker) RegisterHandlers(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Start begins processing tasks in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return ErrAlreadyStarted
	}
	if len(w.handlers) == 0 {
		return ErrNoHandlers
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.InfoContext(ctx, "worker started", slog.Any("queues", w.queues), slog.Int("max_concurrent", cap(w.sem)))
	return nil
}

// Stop cancels polling and waits for in-flight tasks. Safe to call on a
// stopped worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// Run starts the worker and blocks until ctx is done. Suitable for errgroup.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		w.Stop()
		return nil
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		select {
		case w.sem <- struct{}{}:
		default:
			continue
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			if err := w.processNext(ctx); err != nil {
				w.logger.ErrorContext(ctx, "failed to process task", logger.Error(err))
			}
		}()
	}
}

// processNext claims and runs one task. It returns nil when no task is due.
func (w *Worker) processNext(ctx context.Context) error {
	task, err := w.repo.ClaimTask(ctx, w.id, w.queues, w.lock)
	if errors.Is(err, ErrNoTaskToClaim) || (err == nil && task == nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}

	// Outlives worker shutdown so a running task can finish.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.lock)
	defer cancel()

	start := time.Now()
	runErr := w.run(runCtx, task)
	log := w.logger.With(slog.String("task_id", task.ID.String()), slog.String("task_name", task.TaskName), logger.Duration(time.Since(start)))

	if runErr != nil {
		log.WarnContext(ctx, "task failed", slog.Int("retry_count", int(task.RetryCount)), logger.Error(runErr))
		if err := w.repo.FailTask(runCtx, task.ID, runErr.Error()); err != nil {
			return fmt.Errorf("fail task %s: %w", task.ID, err)
		}
		return nil
	}

	if err := w.repo.CompleteTask(runCtx, task.ID); err != nil {
		return fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	log.DebugContext(ctx, "task completed")
	return nil
}

func (w *Worker) run(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()

	w.mu.RLock()
	h, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, task.TaskName)
	}
	return h.Handle(ctx, task.Payload)
}
