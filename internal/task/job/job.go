package job

import (
	"context"
	"time"
)

// Job is an executable unit of work. Implementations should return promptly
// once ctx is done; cancellation is cooperative.
type Job interface {
	Execute(ctx context.Context, ec *ExecutionContext) error
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context, ec *ExecutionContext) error

func (f JobFunc) Execute(ctx context.Context, ec *ExecutionContext) error { return f(ctx, ec) }

// ExecutionContext describes one firing. Listeners and the job see the same value.
type ExecutionContext struct {
	// FireID is unique per firing.
	FireID    string
	Scheduler string

	Definition Definition
	TriggerKey TriggerKey

	ScheduledFireTime time.Time
	FireTime          time.Time
	// NextFireTime is zero when the trigger has no further fires.
	NextFireTime time.Time

	// Recovering is always false: job state is not persisted across restarts.
	Recovering bool
}

// JobKey is a shortcut for Definition.Key.
func (ec *ExecutionContext) JobKey() JobKey { return ec.Definition.Key }

// Param returns Definition.Data[key].
func (ec *ExecutionContext) Param(key string) string {
	if ec == nil || ec.Definition.Data == nil {
		return ""
	}
	return ec.Definition.Data[key]
}
