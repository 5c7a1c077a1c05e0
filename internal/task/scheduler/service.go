package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"cronwire/internal/eventbus"
	rtsup "cronwire/internal/runtime/supervisor"
	"cronwire/internal/task/job"
	"cronwire/internal/task/listener"
	"cronwire/internal/task/registry"
	"cronwire/internal/task/trigger"
	logx "cronwire/pkg/logx"
)

var ErrShuttingDown = errors.New("scheduler is shutting down")

type Service struct {
	mu sync.Mutex

	cfg       Config
	log       logx.Logger
	bus       eventbus.Bus
	clock     clockwork.Clock
	pool      Pool
	factory   JobFactory
	listeners *listener.Bus
	reg       *registry.Registry
	eval      *trigger.Evaluator

	state    State
	triggers []*triggerState
	sup      *rtsup.Supervisor
	// notifyCtx outlives the loop so late job outcomes still reach listeners.
	notifyCtx context.Context

	warnLimiter *rate.Limiter
	suppressed  atomic.Uint64
	fired       atomic.Uint64
	misfired    atomic.Uint64
}

type Option func(*Service)

// WithClock replaces the wall clock, e.g. with a clockwork fake in tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithWarnRate lets one runtime warning per interval reach the log, with burst.
// Listeners are always notified; only logging is throttled.
func WithWarnRate(interval time.Duration, burst int) Option {
	return func(s *Service) { s.warnLimiter = rate.NewLimiter(rate.Every(interval), burst) }
}

func New(cfg Config, pool Pool, factory JobFactory, listeners *listener.Bus, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:         cfg,
		log:         log.With(logx.String("scheduler", cfg.Name)),
		bus:         bus,
		clock:       clockwork.NewRealClock(),
		pool:        pool,
		factory:     factory,
		listeners:   listeners,
		reg:         registry.New(),
		eval:        trigger.NewEvaluator(),
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 10),
		notifyCtx:   context.Background(),
	}
	if s.listeners == nil {
		s.listeners = listener.NewBus(nil)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Name() string { return s.cfg.Name }

func (s *Service) Config() Config { return s.cfg }

// Listeners exposes the listener bus for registrations.
func (s *Service) Listeners() *listener.Bus { return s.listeners }

// Registry exposes the job registry. It is read-only once the scheduler started.
func (s *Service) Registry() *registry.Registry { return s.reg }

func (s *Service) Evaluator() *trigger.Evaluator { return s.eval }

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RegisterJob validates and registers a job with its trigger, then registers
// the scoped listeners the pair names.
func (s *Service) RegisterJob(def job.Definition, trig job.Trigger) error {
	def = def.Clone()
	trig = trig.Clone()
	if err := s.eval.Validate(trig.Expression); err != nil {
		return err
	}
	if trig.Location == nil {
		trig.Location = s.cfg.Location
	}
	if err := s.reg.Register(def, trig); err != nil {
		return err
	}
	if trig.JobKey.IsZero() {
		trig.JobKey = def.Key
	}

	for _, name := range def.ListenerNames {
		s.listeners.RegisterScoped(listener.CapabilityJob, def.Key.String(), name)
	}
	for _, name := range trig.ListenerNames {
		s.listeners.RegisterScoped(listener.CapabilityTrigger, trig.Key.String(), name)
	}

	s.log.Debug("job registered",
		logx.String("job", def.Key.String()),
		logx.String("trigger", trig.Key.String()),
		logx.String("cron", trig.Expression),
		logx.String("tz", trig.Loc().String()),
	)
	now := s.clock.Now()
	s.schedulerEvent(listener.SchedulerEvent{Kind: listener.EventJobScheduled, Time: now, Job: def.Key, Trigger: trig.Key})
	s.publish(EventJobScheduled, now, FireEvent{Job: def.Key.String(), Trigger: trig.Key.String()})
	return nil
}

// Start seals the registry, computes first fire times and launches the loop.
// Starting a running scheduler is a no-op.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		return nil
	case StateShuttingDown:
		s.mu.Unlock()
		return ErrShuttingDown
	}

	s.reg.Seal()
	s.pool.Start(ctx)
	base := context.WithoutCancel(ctx)
	s.notifyCtx = base

	now := s.clock.Now()
	var finalized []*triggerState
	s.triggers = s.triggers[:0]
	for _, p := range s.reg.ListAll() {
		ts := &triggerState{pair: p}
		next, ok, err := s.eval.Next(p.Trigger, now)
		if err != nil {
			s.log.Error("trigger evaluation failed", logx.String("trigger", p.Trigger.Key.String()), logx.Err(err))
		}
		if ok {
			ts.next = next
		} else {
			ts.finalized = true
			finalized = append(finalized, ts)
		}
		s.triggers = append(s.triggers, ts)
	}
	s.state = StateRunning
	s.sup = rtsup.NewSupervisor(base, rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler"))))
	sup := s.sup
	count := len(s.triggers)
	s.mu.Unlock()

	s.log.Info("scheduler started", logx.Int("triggers", count), logx.String("tz", s.cfg.Location.String()))
	s.schedulerEvent(listener.SchedulerEvent{Kind: listener.EventSchedulerStarted, Time: now})
	s.publish(EventStarted, now, nil)
	for _, ts := range finalized {
		s.finalizeEvent(ts, now)
	}

	sup.GoRestart("scheduler.loop", s.runLoop, rtsup.WithPublishFirstError(true))
	return nil
}

// Shutdown stops firing and stops the worker pool. With waitForJobs it waits
// up to ShutdownTimeout (bounded by ctx) for running jobs; jobs still running
// after that are reported as cancelled.
func (s *Service) Shutdown(ctx context.Context, waitForJobs bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	sup := s.sup
	s.mu.Unlock()

	start := s.clock.Now()
	s.log.Info("scheduler shutting down", logx.Bool("wait_for_jobs", waitForJobs))
	s.schedulerEvent(listener.SchedulerEvent{Kind: listener.EventSchedulerShuttingDown, Time: start})
	s.publish(EventShuttingDown, start, nil)

	var loopErr error
	if sup != nil {
		loopErr = sup.Stop(ctx)
	}

	stopCtx := ctx
	if waitForJobs {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	s.pool.Stop(stopCtx, waitForJobs)

	s.mu.Lock()
	s.state = StateStopped
	s.sup = nil
	s.mu.Unlock()

	now := s.clock.Now()
	s.schedulerEvent(listener.SchedulerEvent{Kind: listener.EventSchedulerShutdown, Time: now})
	s.publish(EventStopped, now, nil)
	s.log.Info("scheduler stopped", logx.Duration("took", s.clock.Since(start)))

	if errors.Is(loopErr, context.DeadlineExceeded) || errors.Is(loopErr, context.Canceled) {
		return loopErr
	}
	return nil
}

func (s *Service) publish(typ string, at time.Time, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: data})
}
