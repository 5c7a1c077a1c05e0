package scheduler

import (
	"context"
	"fmt"
	"time"

	"cronwire/internal/task/engine"
	"cronwire/internal/task/job"
	"cronwire/internal/task/registry"
)

const (
	DefaultMisfireThreshold = time.Minute
	DefaultRetryInterval    = 250 * time.Millisecond
	DefaultShutdownTimeout  = 30 * time.Second
)

// Config controls the scheduler loop. Execution settings live in engine.Config.
type Config struct {
	Name string

	// Location is applied to triggers registered without one.
	Location *time.Location

	// MisfireThreshold is how late a fire may be detected before it is skipped.
	MisfireThreshold time.Duration
	// RetryInterval is the delay before retrying a fire that found no free worker.
	RetryInterval time.Duration
	// ShutdownTimeout bounds how long Shutdown waits for running jobs.
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "cronwire"
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.MisfireThreshold <= 0 {
		c.MisfireThreshold = DefaultMisfireThreshold
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// JobFactory produces a fresh executable for every firing.
type JobFactory interface {
	CreateInstance(def job.Definition) (job.Job, error)
}

// Pool is the worker pool the loop reserves capacity from.
type Pool interface {
	Start(ctx context.Context)
	Reserve() (*engine.Reservation, error)
	Stop(ctx context.Context, wait bool)
	Snapshot() engine.Snapshot
}

// triggerState is owned by the loop goroutine. Writes happen under Service.mu
// so Snapshot can read it.
type triggerState struct {
	pair registry.Pair

	next time.Time
	prev time.Time

	// retryAt delays a fire that found the pool exhausted.
	retryAt time.Time
	// exhaustedFor is the scheduled fire time already reported as pool_exhausted.
	exhaustedFor time.Time

	finalized bool
}

// due reports when the loop should look at this trigger again.
func (t *triggerState) due() time.Time {
	if t.finalized {
		return time.Time{}
	}
	if t.retryAt.After(t.next) {
		return t.retryAt
	}
	return t.next
}

func (t *triggerState) less(o *triggerState) bool {
	if !t.next.Equal(o.next) {
		return t.next.Before(o.next)
	}
	if t.pair.Job.Key != o.pair.Job.Key {
		return t.pair.Job.Key.Less(o.pair.Job.Key)
	}
	return t.pair.Trigger.Key.Less(o.pair.Trigger.Key)
}

type TriggerInfo struct {
	Job        job.JobKey
	Trigger    job.TriggerKey
	Type       string
	Expression string
	Location   string
	Next       time.Time
	Prev       time.Time
	Finalized  bool
}

type Snapshot struct {
	Name     string
	State    State
	Timezone string

	MisfireThreshold time.Duration
	RetryInterval    time.Duration

	Fired              uint64
	Misfired           uint64
	SuppressedWarnings uint64
	Triggers           []TriggerInfo
	Engine             engine.Snapshot
}

// Event types published on the event bus.
const (
	EventStarted      = "scheduler.started"
	EventShuttingDown = "scheduler.shutting_down"
	EventStopped      = "scheduler.stopped"
	EventJobScheduled = "scheduler.job_scheduled"
	EventFired        = "trigger.fired"
	EventMisfired     = "trigger.misfired"
	EventFinalized    = "trigger.finalized"
	EventLoopError    = "scheduler.error"
)

// FireEvent is the payload of trigger.* events.
type FireEvent struct {
	FireID    string    `json:"fire_id,omitempty"`
	Job       string    `json:"job"`
	Trigger   string    `json:"trigger"`
	Scheduled time.Time `json:"scheduled"`
	Reason    string    `json:"reason,omitempty"`
}
