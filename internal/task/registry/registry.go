// Package registry holds the job/trigger pairs known to a scheduler.
//
// The registry is populated at configuration time and sealed when the
// scheduler starts. Reads return copies; nothing handed out aliases the
// stored definitions.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"cronwire/internal/task/job"
)

var ErrRegistrySealed = errors.New("registry is sealed")

// Pair is a job definition together with the trigger that fires it.
type Pair struct {
	Job     job.Definition
	Trigger job.Trigger
}

type Registry struct {
	mu       sync.RWMutex
	jobs     map[job.JobKey]Pair
	triggers map[job.TriggerKey]job.JobKey
	sealed   bool
}

func New() *Registry {
	return &Registry{
		jobs:     map[job.JobKey]Pair{},
		triggers: map[job.TriggerKey]job.JobKey{},
	}
}

// Register stores copies of def and trig. A failed registration leaves the
// registry unchanged.
func (r *Registry) Register(def job.Definition, trig job.Trigger) error {
	def = def.Clone()
	trig = trig.Clone()
	if def.Key.IsZero() {
		return errors.New("job name is required")
	}
	if trig.Key.IsZero() {
		return fmt.Errorf("trigger name is required for job %s", def.Key)
	}
	if trig.JobKey.IsZero() {
		trig.JobKey = def.Key
	}
	if trig.JobKey != def.Key {
		return fmt.Errorf("%w: trigger %s targets %s, not %s", job.ErrUnknownJob, trig.Key, trig.JobKey, def.Key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, dup := r.jobs[def.Key]; dup {
		return &job.DuplicateJobError{Key: def.Key}
	}
	if _, dup := r.triggers[trig.Key]; dup {
		return &job.DuplicateTriggerError{Key: trig.Key}
	}
	r.jobs[def.Key] = Pair{Job: def, Trigger: trig}
	r.triggers[trig.Key] = def.Key
	return nil
}

// Seal makes the registry read-only. It is idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

func (r *Registry) Lookup(key job.JobKey) (Pair, bool) {
	r.mu.RLock()
	p, ok := r.jobs[key.Normalize()]
	r.mu.RUnlock()
	if !ok {
		return Pair{}, false
	}
	return clonePair(p), true
}

// ListAll returns every pair ordered by job key.
func (r *Registry) ListAll() []Pair {
	r.mu.RLock()
	out := make([]Pair, 0, len(r.jobs))
	for _, p := range r.jobs {
		out = append(out, clonePair(p))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Job.Key.Less(out[j].Job.Key) })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func clonePair(p Pair) Pair {
	return Pair{Job: p.Job.Clone(), Trigger: p.Trigger.Clone()}
}
