package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"cronwire/internal/config"
	"cronwire/internal/container"
	"cronwire/internal/eventbus"
	"cronwire/internal/jobs"
	"cronwire/internal/module"
	"cronwire/internal/runtime/supervisor"
	"cronwire/internal/storage"
	"cronwire/internal/task/job"
	"cronwire/internal/task/scheduler"
	logx "cronwire/pkg/logx"
)

// Option customizes NewApp.
type Option func(*options)

type options struct {
	bindings  []func(c *container.Container) error
	schedOpts []scheduler.Option
	noWatch   bool
}

// WithBindings registers extra job and listener types before the module is
// configured. Config files may reference anything bound here.
func WithBindings(fn func(c *container.Container) error) Option {
	return func(o *options) { o.bindings = append(o.bindings, fn) }
}

// WithSchedulerOptions passes options through to the scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(o *options) { o.schedOpts = append(o.schedOpts, opts...) }
}

// WithoutConfigWatch disables the config file watcher.
func WithoutConfigWatch() Option {
	return func(o *options) { o.noWatch = true }
}

type App struct {
	cfgPath string
	opts    options

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	c        *container.Container
	mod      *module.Module
	sched    *scheduler.Service
	warnings []*job.ConfigurationWarning

	waitForJobs bool
	stopOnce    sync.Once
	stopErr     error
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath:     cfgPath,
		opts:        o,
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		bus:         eventbus.New(),
		c:           container.New(),
		waitForJobs: cfg.Scheduler.WaitForJobs,
	}
	if err := a.wire(cfg); err != nil {
		return nil, multierr.Append(err, a.closeSinks())
	}
	return a, nil
}

// wire builds storage, the container and the scheduler from cfg.
func (a *App) wire(cfg *config.Config) error {
	schedCfg, engCfg, warn, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	if warn != nil {
		a.warnings = append(a.warnings, warn)
		a.log.Warn("invalid timezone; falling back to Local", logx.String("field", warn.Field), logx.String("tz", warn.Value))
	}

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if enabled {
		st, err := storage.Open(sc, a.log)
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
		audit := storage.NewAuditListener(st, nil, a.log)
		if err := a.c.BindInstance(storage.AuditListenerType, audit); err != nil {
			return err
		}
	}

	if err := jobs.Register(a.c, a.log); err != nil {
		return err
	}
	for _, bind := range a.opts.bindings {
		if err := bind(a.c); err != nil {
			return fmt.Errorf("bindings: %w", err)
		}
	}

	var unbound []error
	for _, typ := range listenerTypes(cfg) {
		if !a.c.Bound(typ) {
			unbound = append(unbound, fmt.Errorf("%w: listener type %q is not bound", module.ErrUnknownListener, typ))
		}
	}
	if err := multierr.Combine(unbound...); err != nil {
		return err
	}

	mod, err := buildModule(cfg, module.Options{
		Scheduler:        schedCfg,
		Engine:           engCfg,
		Log:              a.log.With(logx.String("comp", "module")),
		Bus:              a.bus,
		SchedulerOptions: a.opts.schedOpts,
	}, a.store != nil)
	if err != nil {
		return err
	}
	a.warnings = append(a.warnings, mod.Warnings()...)
	if err := mod.Configure(a.c); err != nil {
		return err
	}
	sched, err := container.Resolve[*scheduler.Service](a.c, module.SchedulerService)
	if err != nil {
		return err
	}
	a.mod = mod
	a.sched = sched
	return nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Container() *container.Container { return a.c }

func (a *App) Store() storage.Store { return a.store }

// Warnings returns configuration problems that were tolerated at startup.
func (a *App) Warnings() []*job.ConfigurationWarning {
	return append([]*job.ConfigurationWarning(nil), a.warnings...)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	if !a.opts.noWatch {
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.log.Info("cronwire started",
		logx.String("scheduler", a.sched.Name()),
		logx.Int("jobs", a.sched.Registry().Len()),
		logx.String("config", a.cfgPath),
	)
	return nil
}

// applyConfig applies what can change at runtime (logging) and warns about the rest.
func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.SummarizeConfigChange(prev, next)
	if ch.Empty() {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config change summary", fields...)

	if err := a.logs.Apply(mapLogConfig(next)); err != nil {
		a.log.Warn("logging config partially applied", logx.Err(err))
	}

	if ch.RestartRequired {
		a.log.Warn("scheduler, storage, listener or job changes require a restart",
			logx.String("sections", strings.Join(ch.Sections, ",")),
			logx.Strings("jobs", ch.Jobs),
		)
	}
}

func (a *App) logEvent(e eventbus.Event) {
	switch {
	case e.Type == scheduler.EventMisfired:
		// Already logged by the scheduler at warn level (rate limited).
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
	case eventbus.HasPrefix(e, "scheduler"):
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	default:
		a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
	}
}

// Stop shuts the scheduler down (waiting for jobs if configured), stops
// background goroutines and closes storage and log sinks. Subsequent calls
// return the first result.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.stopOnce.Do(func() {
		a.log.Info("stopping", logx.String("reason", string(reason)))
		var err error
		if a.sched != nil {
			err = multierr.Append(err, a.sched.Shutdown(ctx, a.waitForJobs))
		}
		if a.sup != nil {
			if serr := a.sup.Stop(ctx); serr != nil && !errors.Is(serr, context.Canceled) {
				err = multierr.Append(err, serr)
			}
		}
		if dropped := a.bus.Dropped(); dropped > 0 {
			a.log.Debug("events dropped", logx.Uint64("count", dropped))
		}
		a.log.Info("stopped", logx.String("reason", string(reason)))
		a.stopErr = multierr.Append(err, a.closeSinks())
	})
	return a.stopErr
}

func (a *App) closeSinks() error {
	var err error
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	if a.logs != nil {
		err = multierr.Append(err, a.logs.Close())
	}
	return err
}
