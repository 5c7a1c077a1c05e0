package job

import (
	"maps"
	"slices"
	"time"
)

// Definition describes a job: what to construct and how it behaves.
// It is created at configuration time and never mutated afterwards;
// the registry keeps its own copy.
type Definition struct {
	Key JobKey

	// Type is the implementation type identifier handed to the
	// object-construction collaborator.
	Type        string
	Description string

	// Durable jobs stay registered when their trigger has no further fires.
	Durable bool
	// RequestsRecovery asks for a re-run after an abnormal stop. Without
	// persistence this is carried as metadata only.
	RequestsRecovery bool
	Volatile         bool

	// ListenerNames reference job listeners invoked for this job only,
	// in this order, after the global ones.
	ListenerNames []string

	// Data is passed to the job on every execution.
	Data map[string]string

	// Timeout bounds a single execution. 0 uses the engine default.
	Timeout time.Duration
}

// Clone returns a deep copy.
func (d Definition) Clone() Definition {
	d.Key = d.Key.Normalize()
	d.ListenerNames = slices.Clone(d.ListenerNames)
	d.Data = maps.Clone(d.Data)
	return d
}

// Trigger fires a single job according to a cron expression evaluated in Location.
type Trigger struct {
	Key TriggerKey
	// JobKey is a back-reference to the job this trigger fires.
	JobKey JobKey

	Expression string
	Location   *time.Location

	// StartAt and EndAt optionally bound the fire times. Zero means unbounded.
	StartAt time.Time
	EndAt   time.Time

	// ListenerNames reference trigger listeners invoked for this trigger only.
	ListenerNames []string

	Description string
}

func (t Trigger) Clone() Trigger {
	t.Key = t.Key.Normalize()
	t.JobKey = t.JobKey.Normalize()
	t.ListenerNames = slices.Clone(t.ListenerNames)
	return t
}

// Loc returns Location or time.Local.
func (t Trigger) Loc() *time.Location {
	if t.Location == nil {
		return time.Local
	}
	return t.Location
}
