package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"

	"cronwire/internal/task/engine"
	"cronwire/internal/task/job"
	"cronwire/internal/task/listener"
	logx "cronwire/pkg/logx"
)

// runLoop turns a panic in the loop into an error so the supervisor restarts
// it, and reports it to scheduler listeners.
func (s *Service) runLoop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler loop panic: %v", r)
			s.log.Error("scheduler loop panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		if err != nil && ctx.Err() == nil {
			now := s.clock.Now()
			s.schedulerEvent(listener.SchedulerEvent{Kind: listener.EventSchedulerError, Time: now, Err: err})
			s.publish(EventLoopError, now, err.Error())
		}
	}()
	return s.loop(ctx)
}

func (s *Service) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		now := s.clock.Now()
		due, wake := s.collectDue(now)
		if len(due) > 0 {
			for _, ts := range due {
				if ctx.Err() != nil {
					return nil
				}
				s.process(ctx, ts, now)
			}
			continue
		}

		if wake.IsZero() {
			// Nothing left to fire.
			<-ctx.Done()
			return nil
		}
		t := s.clock.NewTimer(wake.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.Chan():
		}
	}
}

// collectDue returns the triggers due at now in firing order, and the earliest
// future instant the loop has to wake up for.
func (s *Service) collectDue(now time.Time) (due []*triggerState, wake time.Time) {
	for _, ts := range s.triggers {
		at := ts.due()
		if at.IsZero() {
			continue
		}
		if !at.After(now) {
			due = append(due, ts)
			continue
		}
		if wake.IsZero() || at.Before(wake) {
			wake = at
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].less(due[j]) })
	return due, wake
}

func (s *Service) process(ctx context.Context, ts *triggerState, now time.Time) {
	scheduled := ts.next
	tk := ts.pair.Trigger.Key
	jk := ts.pair.Job.Key

	if now.Sub(scheduled) > s.cfg.MisfireThreshold {
		s.misfire(ctx, &job.MisfireWarning{Trigger: tk, Job: jk, ScheduledFireTime: scheduled, DetectedAt: now, Reason: job.MisfireLate})
		s.advance(ts, now)
		return
	}

	res, err := s.pool.Reserve()
	if err != nil {
		if !errors.Is(err, engine.ErrPoolExhausted) {
			// Pool is stopping; the loop is about to exit.
			s.log.Debug("fire deferred", logx.String("trigger", tk.String()), logx.Err(err))
			s.mu.Lock()
			ts.retryAt = now.Add(s.cfg.RetryInterval)
			s.mu.Unlock()
			return
		}
		notify := !ts.exhaustedFor.Equal(scheduled)
		s.mu.Lock()
		ts.retryAt = now.Add(s.cfg.RetryInterval)
		ts.exhaustedFor = scheduled
		s.mu.Unlock()
		if notify {
			s.misfire(ctx, &job.MisfireWarning{Trigger: tk, Job: jk, ScheduledFireTime: scheduled, DetectedAt: now, Reason: job.MisfirePoolExhausted})
		}
		return
	}

	next := s.advance(ts, now)
	ec := &job.ExecutionContext{
		FireID:            uuid.NewString(),
		Scheduler:         s.cfg.Name,
		Definition:        ts.pair.Job.Clone(),
		TriggerKey:        tk,
		ScheduledFireTime: scheduled,
		FireTime:          now,
		NextFireTime:      next,
	}
	s.fire(ctx, res, ec)
	if next.IsZero() {
		s.finalizeEvent(ts, now)
	}
}

// advance recomputes the next fire time from now and clears retry state.
// It returns the new next fire time, zero when the trigger is exhausted.
func (s *Service) advance(ts *triggerState, now time.Time) time.Time {
	next, ok, err := s.eval.Next(ts.pair.Trigger, now)
	if err != nil {
		s.log.Error("trigger evaluation failed", logx.String("trigger", ts.pair.Trigger.Key.String()), logx.Err(err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ts.prev = ts.next
	ts.retryAt = time.Time{}
	ts.exhaustedFor = time.Time{}
	if !ok {
		ts.next = time.Time{}
		ts.finalized = true
		return time.Time{}
	}
	ts.next = next
	return next
}

func (s *Service) fire(ctx context.Context, res *engine.Reservation, ec *job.ExecutionContext) {
	s.fired.Add(1)
	s.warn(s.listeners.NotifyTriggerFired(ctx, ec))
	s.warn(s.listeners.NotifyJobToBeExecuted(ctx, ec))
	s.publish(EventFired, ec.FireTime, FireEvent{FireID: ec.FireID, Job: ec.JobKey().String(), Trigger: ec.TriggerKey.String(), Scheduled: ec.ScheduledFireTime})

	notifyCtx := s.notifyCtx
	def := ec.Definition
	task := engine.Task{
		ID:      ec.FireID,
		Name:    def.Key.String(),
		Timeout: def.Timeout,
		Run: func(runCtx context.Context) error {
			return s.execute(runCtx, ec)
		},
		Done: func(err error) {
			s.warn(s.listeners.NotifyJobWasExecuted(notifyCtx, ec, err))
		},
	}
	if err := res.Submit(task); err != nil {
		s.log.Warn("job submit failed", logx.String("job", def.Key.String()), logx.Err(err))
		s.warn(s.listeners.NotifyJobWasExecuted(notifyCtx, ec, job.ErrCancelled))
	}
}

// execute runs on a worker: it builds a fresh job instance and runs it.
func (s *Service) execute(ctx context.Context, ec *job.ExecutionContext) (err error) {
	j, err := s.factory.CreateInstance(ec.Definition)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = &job.JobExecutionError{Key: ec.JobKey(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := j.Execute(ctx, ec); err != nil {
		return &job.JobExecutionError{Key: ec.JobKey(), Err: err}
	}
	return nil
}

func (s *Service) misfire(ctx context.Context, w *job.MisfireWarning) {
	s.misfired.Add(1)
	s.warnf(w, "trigger misfired",
		logx.String("trigger", w.Trigger.String()),
		logx.String("reason", string(w.Reason)),
		logx.Time("scheduled", w.ScheduledFireTime),
		logx.Duration("late", w.Late()),
	)
	s.warn(s.listeners.NotifyTriggerMisfired(ctx, w))
	s.publish(EventMisfired, w.DetectedAt, FireEvent{Job: w.Job.String(), Trigger: w.Trigger.String(), Scheduled: w.ScheduledFireTime, Reason: string(w.Reason)})
}

func (s *Service) finalizeEvent(ts *triggerState, now time.Time) {
	tk := ts.pair.Trigger.Key
	s.log.Info("trigger has no further fire times", logx.String("trigger", tk.String()))
	s.schedulerEvent(listener.SchedulerEvent{Kind: listener.EventTriggerFinalized, Time: now, Job: ts.pair.Job.Key, Trigger: tk})
	s.publish(EventFinalized, now, FireEvent{Job: ts.pair.Job.Key.String(), Trigger: tk.String()})
}

func (s *Service) schedulerEvent(ev listener.SchedulerEvent) {
	ev.Scheduler = s.cfg.Name
	s.warn(s.listeners.NotifySchedulerEvent(s.notifyCtx, ev))
}
