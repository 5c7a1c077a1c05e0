package listener

import (
	"context"
	"fmt"
	"time"

	"cronwire/internal/task/job"
)

type Capability uint8

const (
	CapabilityJob Capability = iota + 1
	CapabilityTrigger
	CapabilityScheduler
)

func (c Capability) String() string {
	switch c {
	case CapabilityJob:
		return "job"
	case CapabilityTrigger:
		return "trigger"
	case CapabilityScheduler:
		return "scheduler"
	default:
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
}

// Constructor produces listener instances by type identifier.
type Constructor interface {
	Construct(typ string) (any, error)
}

type JobListener interface {
	JobToBeExecuted(ctx context.Context, ec *job.ExecutionContext) error
	// JobWasExecuted is called exactly once per firing. jobErr is nil on success,
	// an *InstantiationError, a *JobExecutionError or ErrCancelled otherwise.
	JobWasExecuted(ctx context.Context, ec *job.ExecutionContext, jobErr error) error
}

type TriggerListener interface {
	TriggerFired(ctx context.Context, ec *job.ExecutionContext) error
	TriggerMisfired(ctx context.Context, w *job.MisfireWarning) error
}

type SchedulerListener interface {
	SchedulerEvent(ctx context.Context, ev SchedulerEvent) error
}

type EventKind string

const (
	EventSchedulerStarted      EventKind = "scheduler_started"
	EventSchedulerShuttingDown EventKind = "scheduler_shutting_down"
	EventSchedulerShutdown     EventKind = "scheduler_shutdown"
	EventJobScheduled          EventKind = "job_scheduled"
	EventTriggerFinalized      EventKind = "trigger_finalized"
	EventSchedulerError        EventKind = "scheduler_error"
)

// SchedulerEvent is a lifecycle notification. Job and Trigger are set for
// job/trigger related kinds only.
type SchedulerEvent struct {
	Kind      EventKind
	Scheduler string
	Time      time.Time
	Job       job.JobKey
	Trigger   job.TriggerKey
	Err       error
}

// Registration identifies one registered listener. Target is empty for
// global registrations.
type Registration struct {
	Capability Capability
	Global     bool
	Target     string
	Type       string
}

func (r Registration) String() string {
	if r.Global {
		return fmt.Sprintf("%s/global/%s", r.Capability, r.Type)
	}
	return fmt.Sprintf("%s/%s/%s", r.Capability, r.Target, r.Type)
}
