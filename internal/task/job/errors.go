package job

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCancelled is reported for executions cancelled by a forced shutdown.
	ErrCancelled = errors.New("job execution cancelled")

	// ErrUnknownJob is returned when a trigger references a job that is not
	// part of the registration.
	ErrUnknownJob = errors.New("trigger references unknown job")
)

// InvalidScheduleError rejects a registration whose cron expression does not parse.
type InvalidScheduleError struct {
	Expression string
	Err        error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule %q: %v", e.Expression, e.Err)
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }

// DuplicateJobError rejects a second registration of the same job key.
type DuplicateJobError struct {
	Key JobKey
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("job %s already registered", e.Key)
}

// DuplicateTriggerError rejects a second registration of the same trigger key.
type DuplicateTriggerError struct {
	Key TriggerKey
}

func (e *DuplicateTriggerError) Error() string {
	return fmt.Sprintf("trigger %s already registered", e.Key)
}

// InstantiationError means the construction collaborator could not produce a job.
type InstantiationError struct {
	Key  JobKey
	Type string
	Err  error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("instantiate job %s (type %q): %v", e.Key, e.Type, e.Err)
}

func (e *InstantiationError) Unwrap() error { return e.Err }

// JobExecutionError wraps whatever a job returned (or panicked with).
type JobExecutionError struct {
	Key JobKey
	Err error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("job %s failed: %v", e.Key, e.Err)
}

func (e *JobExecutionError) Unwrap() error { return e.Err }

// MisfireReason tells why a trigger did not fire on time.
type MisfireReason string

const (
	// MisfireLate: the fire time passed by more than the misfire threshold.
	MisfireLate MisfireReason = "late"
	// MisfirePoolExhausted: no worker was free; the fire is retried.
	MisfirePoolExhausted MisfireReason = "pool_exhausted"
)

// MisfireWarning is informational and passed to trigger listeners.
type MisfireWarning struct {
	Trigger           TriggerKey
	Job               JobKey
	ScheduledFireTime time.Time
	DetectedAt        time.Time
	Reason            MisfireReason
}

func (w *MisfireWarning) Error() string {
	return fmt.Sprintf("trigger %s misfired (%s): scheduled %s, detected %s late",
		w.Trigger, w.Reason, w.ScheduledFireTime.Format(time.RFC3339), w.Late())
}

// Late is how far past the scheduled time the misfire was detected.
func (w *MisfireWarning) Late() time.Duration {
	d := w.DetectedAt.Sub(w.ScheduledFireTime)
	if d < 0 {
		return 0
	}
	return d
}

// ConfigurationWarning reports a suspicious but accepted configuration value,
// e.g. an unknown time zone id replaced by the local zone.
type ConfigurationWarning struct {
	Field string
	Value string
	Msg   string
}

func (w *ConfigurationWarning) Error() string {
	return fmt.Sprintf("%s=%q: %s", w.Field, w.Value, w.Msg)
}
