// Package queue is a small durable-work abstraction: producers enqueue
// JSON payloads, workers claim and run them with registered handlers, and
// failed tasks are retried with backoff until MaxRetries is exhausted.
//
// Storage is pluggable through the Repository interfaces; MemoryStorage is
// provided for development and tests.
package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is the queue used when none is specified.
const DefaultQueueName = "default"

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Priority represents task priority (0-100, higher is more important).
type Priority int8

const (
	PriorityLow     Priority = 25
	PriorityMedium  Priority = 50
	PriorityHigh    Priority = 75
	PriorityMax     Priority = 100
	PriorityDefault Priority = PriorityMedium
)

func (p Priority) Valid() bool {
	return p >= 0 && p <= PriorityMax
}

// Task represents a task in the queue.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	Queue       string     `json:"queue"`
	TaskName    string     `json:"task_name"`
	Payload     []byte     `json:"payload,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	RetryCount  int8       `json:"retry_count"`
	MaxRetries  int8       `json:"max_retries"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID `json:"locked_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

var (
	ErrRepositoryNil   = errors.New("queue: repository cannot be nil")
	ErrPayloadNil      = errors.New("queue: payload cannot be nil")
	ErrInvalidPriority = errors.New("queue: priority must be between 0 and 100")
	ErrNoTaskToClaim   = errors.New("queue: no task to claim")
	ErrTaskNotFound    = errors.New("queue: task not found")
	ErrHandlerNotFound = errors.New("queue: no handler registered for task")
	ErrNoHandlers      = errors.New("queue: no task handlers registered")
	ErrAlreadyStarted  = errors.New("queue: worker already started")
)

func qualifiedStructName(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}
