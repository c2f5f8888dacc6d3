package scheduler

import "errors"

var (
	ErrJobNotFound   = errors.New("scheduler: job not found")
	ErrJobExists     = errors.New("scheduler: job already registered")
	ErrJobRunning    = errors.New("scheduler: job is already running")
	ErrLockHeld      = errors.New("scheduler: job is running on another instance")
	ErrInvalidJob    = errors.New("scheduler: invalid job")
	ErrAlreadyActive = errors.New("scheduler: jobs cannot be registered after start")
	ErrJobPanicked   = errors.New("scheduler: job panicked")
	ErrStopping      = errors.New("scheduler: stopping")
)
