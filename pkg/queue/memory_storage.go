package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements the queue repositories in memory.
type MemoryStorage struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*Task
	backoff func(retry int8) time.Duration
	now     func() time.Time
}

// NewMemoryStorage creates a new in-memory storage. Failed tasks are
// rescheduled after retry² seconds.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks: make(map[uuid.UUID]*Task),
		backoff: func(retry int8) time.Duration {
			return time.Duration(int(retry)*int(retry)) * time.Second
		},
		now: time.Now,
	}
}

// CreateTask implements EnqueuerRepository.
func (ms *MemoryStorage) CreateTask(_ context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.tasks[task.ID]; ok {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}
	t := *task
	ms.tasks[task.ID] = &t
	return nil
}

// ClaimTask locks the highest-priority due task in queues. Pending tasks
// and processing tasks whose lock expired are both claimable.
func (ms *MemoryStorage) ClaimTask(_ context.Context, workerID uuid.UUID, queues []string, lock time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	var best *Task
	for _, t := range ms.tasks {
		if !slices.Contains(queues, t.Queue) || t.ScheduledAt.After(now) {
			continue
		}
		claimable := t.Status == TaskStatusPending ||
			(t.Status == TaskStatusProcessing && t.LockedUntil != nil && !t.LockedUntil.After(now))
		if !claimable {
			continue
		}
		if best == nil || t.Priority > best.Priority ||
			(t.Priority == best.Priority && t.ScheduledAt.Before(best.ScheduledAt)) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	until := now.Add(lock)
	best.Status = TaskStatusProcessing
	best.LockedUntil = &until
	best.LockedBy = &workerID

	out := *best
	return &out, nil
}

func (ms *MemoryStorage) CompleteTask(_ context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	now := ms.now()
	t.Status = TaskStatusCompleted
	t.ProcessedAt = &now
	t.LockedUntil = nil
	t.LockedBy = nil
	return nil
}

// FailTask records the error and either reschedules the task with backoff
// or, once retries are exhausted, marks it failed.
func (ms *MemoryStorage) FailTask(_ context.Context, id uuid.UUID, errMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	now := ms.now()
	t.Error = errMsg
	t.LockedUntil = nil
	t.LockedBy = nil
	if t.RetryCount >= t.MaxRetries {
		t.Status = TaskStatusFailed
		t.ProcessedAt = &now
		return nil
	}
	t.RetryCount++
	t.Status = TaskStatusPending
	t.ScheduledAt = now.Add(ms.backoff(t.RetryCount))
	return nil
}

// GetTask returns a copy of the task.
func (ms *MemoryStorage) GetTask(_ context.Context, id uuid.UUID) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	out := *t
	return &out, nil
}

// Tasks returns copies of every task with the given status.
func (ms *MemoryStorage) Tasks(status TaskStatus) []Task {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []Task
	for _, t := range ms.tasks {
		if t.Status == status {
			out = append(out, *t)
		}
	}
	slices.SortFunc(out, func(a, b Task) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}
