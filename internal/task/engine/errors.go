package engine

import (
	"errors"

	"cronwire/internal/task/job"
)

var (
	ErrStopped       = errors.New("task engine stopped")
	ErrStopping      = errors.New("task engine stopping")
	ErrPoolExhausted = errors.New("task engine: no free worker")
	ErrReservation   = errors.New("task engine: reservation already used")

	// ErrCancelled is handed to Task.Done when a forced stop abandons a task.
	ErrCancelled = job.ErrCancelled
)
