package listener

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"cronwire/internal/task/job"
)

// Bus holds listener registrations and dispatches notifications.
// It is safe for concurrent use.
type Bus struct {
	ctor Constructor

	mu   sync.RWMutex
	regs []Registration
	seen map[Registration]struct{}
}

func NewBus(ctor Constructor) *Bus {
	return &Bus{ctor: ctor, seen: map[Registration]struct{}{}}
}

// RegisterGlobal registers a listener for every target of the capability.
// It reports false when the registration already existed.
func (b *Bus) RegisterGlobal(c Capability, typ string) bool {
	return b.add(Registration{Capability: c, Global: true, Type: strings.TrimSpace(typ)})
}

// RegisterScoped registers a listener for a single target.
func (b *Bus) RegisterScoped(c Capability, target, typ string) bool {
	return b.add(Registration{Capability: c, Target: target, Type: strings.TrimSpace(typ)})
}

func (b *Bus) add(r Registration) bool {
	if r.Type == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.seen[r]; dup {
		return false
	}
	b.seen[r] = struct{}{}
	b.regs = append(b.regs, r)
	return true
}

// Registrations returns a snapshot in registration order.
func (b *Bus) Registrations() []Registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Registration, len(b.regs))
	copy(out, b.regs)
	return out
}

// matching returns global registrations first, then the scoped ones for target,
// each in registration order.
func (b *Bus) matching(c Capability, target string) []Registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var global, scoped []Registration
	for _, r := range b.regs {
		if r.Capability != c {
			continue
		}
		switch {
		case r.Global:
			global = append(global, r)
		case r.Target == target:
			scoped = append(scoped, r)
		}
	}
	return append(global, scoped...)
}

func (b *Bus) NotifyJobToBeExecuted(ctx context.Context, ec *job.ExecutionContext) error {
	return dispatch(b, CapabilityJob, ec.JobKey().String(), "job_to_be_executed", func(l JobListener) error {
		return l.JobToBeExecuted(ctx, ec)
	})
}

func (b *Bus) NotifyJobWasExecuted(ctx context.Context, ec *job.ExecutionContext, jobErr error) error {
	return dispatch(b, CapabilityJob, ec.JobKey().String(), "job_was_executed", func(l JobListener) error {
		return l.JobWasExecuted(ctx, ec, jobErr)
	})
}

func (b *Bus) NotifyTriggerFired(ctx context.Context, ec *job.ExecutionContext) error {
	return dispatch(b, CapabilityTrigger, ec.TriggerKey.String(), "trigger_fired", func(l TriggerListener) error {
		return l.TriggerFired(ctx, ec)
	})
}

func (b *Bus) NotifyTriggerMisfired(ctx context.Context, w *job.MisfireWarning) error {
	return dispatch(b, CapabilityTrigger, w.Trigger.String(), "trigger_misfired", func(l TriggerListener) error {
		return l.TriggerMisfired(ctx, w)
	})
}

func (b *Bus) NotifySchedulerEvent(ctx context.Context, ev SchedulerEvent) error {
	return dispatch(b, CapabilityScheduler, ev.Scheduler, string(ev.Kind), func(l SchedulerListener) error {
		return l.SchedulerEvent(ctx, ev)
	})
}

func dispatch[L any](b *Bus, c Capability, target, note string, call func(L) error) error {
	var errs error
	for _, r := range b.matching(c, target) {
		errs = multierr.Append(errs, invoke(b.ctor, r, call))
	}
	if errs == nil {
		return nil
	}
	return &DispatchWarning{Notification: note, Err: errs}
}

func invoke[L any](ctor Constructor, r Registration, call func(L) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("listener %s panicked: %v", r.Type, rec)
		}
	}()
	if ctor == nil {
		return fmt.Errorf("listener %s: no constructor", r.Type)
	}
	inst, err := ctor.Construct(r.Type)
	if err != nil {
		return fmt.Errorf("listener %s: %w", r.Type, err)
	}
	l, ok := inst.(L)
	if !ok {
		return fmt.Errorf("listener %s: %T is not a %s listener", r.Type, inst, r.Capability)
	}
	if err := call(l); err != nil {
		return fmt.Errorf("listener %s: %w", r.Type, err)
	}
	return nil
}
