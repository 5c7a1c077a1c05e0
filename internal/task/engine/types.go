package engine

import (
	"context"
	"time"
)

// Config controls the task execution engine.
type Config struct {
	// Workers is both the number of worker goroutines and the number of permits.
	Workers int

	// DefaultTimeout is used when Task.Timeout is 0. 0 means no timeout.
	DefaultTimeout time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.DefaultTimeout < 0 {
		c.DefaultTimeout = 0
	}
	return c
}

// Task is a unit of work executed by the engine.
//
// Done is invoked exactly once for every accepted task: with the result of Run,
// with a recovered panic, or with ErrCancelled when a forced stop gives up on it.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Done    func(err error)
}

type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool
	Stopping bool
	Workers  int
	InFlight int
	Free     int

	Submitted uint64
	Succeeded uint64
	Failed    uint64
	Cancelled uint64
	Exhausted uint64

	DefaultTimeout time.Duration

	History []HistoryItem
}
