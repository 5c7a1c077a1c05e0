package scheduler

import (
	"time"

	"cronwire/internal/task/job"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Name:             s.cfg.Name,
		State:            s.state,
		Timezone:         s.cfg.Location.String(),
		MisfireThreshold: s.cfg.MisfireThreshold,
		RetryInterval:    s.cfg.RetryInterval,
	}
	for _, ts := range s.triggers {
		snap.Triggers = append(snap.Triggers, TriggerInfo{
			Job:        ts.pair.Job.Key,
			Trigger:    ts.pair.Trigger.Key,
			Type:       ts.pair.Job.Type,
			Expression: ts.pair.Trigger.Expression,
			Location:   ts.pair.Trigger.Loc().String(),
			Next:       ts.next,
			Prev:       ts.prev,
			Finalized:  ts.finalized,
		})
	}
	started := len(s.triggers) > 0
	s.mu.Unlock()

	// Before the first Start there is no trigger state yet; report the registry.
	if !started {
		for _, p := range s.reg.ListAll() {
			snap.Triggers = append(snap.Triggers, TriggerInfo{
				Job:        p.Job.Key,
				Trigger:    p.Trigger.Key,
				Type:       p.Job.Type,
				Expression: p.Trigger.Expression,
				Location:   p.Trigger.Loc().String(),
			})
		}
	}

	snap.Fired = s.fired.Load()
	snap.Misfired = s.misfired.Load()
	snap.SuppressedWarnings = s.suppressed.Load()
	if s.pool != nil {
		snap.Engine = s.pool.Snapshot()
	}
	return snap
}

// NextFireTime returns the scheduled next fire time of a trigger while running.
func (s *Service) NextFireTime(jobName, group string) (next time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range s.triggers {
		if ts.pair.Job.Key == job.NewJobKey(jobName, group) {
			return ts.next, !ts.finalized
		}
	}
	return time.Time{}, false
}
