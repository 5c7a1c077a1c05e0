package storage

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"

	"cronwire/internal/task/job"
	logx "cronwire/pkg/logx"
)

// AuditListenerType is the container type identifier of the audit listener.
const AuditListenerType = "cronwire.audit"

// AuditListener records every job outcome and trigger misfire in a Store.
// It is registered as a global job and trigger listener.
type AuditListener struct {
	store Store
	clock clockwork.Clock
	log   logx.Logger
}

func NewAuditListener(store Store, clock clockwork.Clock, log logx.Logger) *AuditListener {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AuditListener{store: store, clock: clock, log: log.With(logx.String("comp", "audit"))}
}

func (a *AuditListener) JobToBeExecuted(context.Context, *job.ExecutionContext) error { return nil }

func (a *AuditListener) JobWasExecuted(ctx context.Context, ec *job.ExecutionContext, jobErr error) error {
	if a.store == nil {
		return nil
	}
	now := a.clock.Now()
	e := Execution{
		FireID:      ec.FireID,
		Scheduler:   ec.Scheduler,
		Job:         ec.JobKey().String(),
		JobType:     ec.Definition.Type,
		Trigger:     ec.TriggerKey.String(),
		Outcome:     outcomeOf(jobErr),
		ScheduledAt: ec.ScheduledFireTime,
		FiredAt:     ec.FireTime,
		FinishedAt:  now,
	}
	if !ec.FireTime.IsZero() {
		e.TookMS = now.Sub(ec.FireTime).Milliseconds()
	}
	if jobErr != nil {
		e.Error = jobErr.Error()
	}
	return a.append(ctx, e)
}

func (a *AuditListener) TriggerFired(context.Context, *job.ExecutionContext) error { return nil }

func (a *AuditListener) TriggerMisfired(ctx context.Context, w *job.MisfireWarning) error {
	if a.store == nil || w == nil {
		return nil
	}
	return a.append(ctx, Execution{
		Job:         w.Job.String(),
		Trigger:     w.Trigger.String(),
		Outcome:     OutcomeMisfired,
		ScheduledAt: w.ScheduledFireTime,
		Reason:      string(w.Reason),
		Error:       w.Error(),
	})
}

func (a *AuditListener) append(ctx context.Context, e Execution) error {
	if err := a.store.AppendExecution(ctx, e); err != nil {
		a.log.Debug("audit append failed", logx.String("job", e.Job), logx.Err(err))
		return err
	}
	return nil
}

func outcomeOf(err error) Outcome {
	var inst *job.InstantiationError
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, job.ErrCancelled):
		return OutcomeCancelled
	case errors.As(err, &inst):
		return OutcomeInstantiationFailed
	default:
		return OutcomeFailed
	}
}
