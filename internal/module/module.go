// Package module wires the scheduler into a container.
//
// A Module collects listener types and job/trigger pairs at configuration time;
// Configure binds a scheduler provider that builds a fully registered,
// not yet started scheduler the first time it is resolved.
package module

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/multierr"

	"cronwire/internal/container"
	"cronwire/internal/eventbus"
	"cronwire/internal/task/engine"
	"cronwire/internal/task/job"
	"cronwire/internal/task/jobfactory"
	"cronwire/internal/task/listener"
	"cronwire/internal/task/registry"
	"cronwire/internal/task/scheduler"
	"cronwire/internal/task/trigger"
	logx "cronwire/pkg/logx"
)

// SchedulerService is the container type id of the scheduler singleton.
const SchedulerService = "cronwire.scheduler"

var ErrUnknownListener = errors.New("unknown listener")

// Options configure the scheduler the module builds.
type Options struct {
	Scheduler scheduler.Config
	Engine    engine.Config
	Log       logx.Logger
	Bus       eventbus.Bus

	// SchedulerOptions are passed through to scheduler.New (e.g. a fake clock).
	SchedulerOptions []scheduler.Option
}

// ScheduleSpec is a declarative job + cron trigger record.
type ScheduleSpec struct {
	JobName  string
	JobGroup string
	JobType  string

	// TriggerName defaults to JobType.
	TriggerName  string
	TriggerGroup string

	CronExpression string
	// TimeZone is an IANA id. Empty means the scheduler's zone; an unknown id
	// falls back to the local zone with a warning.
	TimeZone string

	Durable     bool
	Recover     bool
	Volatile    bool
	Timeout     time.Duration
	StartAt     time.Time
	EndAt       time.Time
	Description string

	JobListenerNames     []string
	TriggerListenerNames []string
	Data                 map[string]string
}

type pair struct {
	def  job.Definition
	trig job.Trigger
}

type Module struct {
	opts Options
	eval *trigger.Evaluator

	globalJob     []string
	job           []string
	globalTrigger []string
	trigger       []string
	scheduler     []string

	pairs    []pair
	jobKeys  map[job.JobKey]struct{}
	warnings []*job.ConfigurationWarning
}

func New(opts Options) *Module {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	return &Module{
		opts:    opts,
		eval:    trigger.NewEvaluator(),
		jobKeys: map[job.JobKey]struct{}{},
	}
}

func (m *Module) AddGlobalJobListener(typ string) *Module {
	m.globalJob = addElement(m.globalJob, typ)
	return m
}

// AddJobListener declares a named job listener that jobs opt into through
// Definition.ListenerNames.
func (m *Module) AddJobListener(typ string) *Module {
	m.job = addElement(m.job, typ)
	return m
}

func (m *Module) AddGlobalTriggerListener(typ string) *Module {
	m.globalTrigger = addElement(m.globalTrigger, typ)
	return m
}

func (m *Module) AddTriggerListener(typ string) *Module {
	m.trigger = addElement(m.trigger, typ)
	return m
}

func (m *Module) AddSchedulerListener(typ string) *Module {
	m.scheduler = addElement(m.scheduler, typ)
	return m
}

func addElement(set []string, typ string) []string {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return set
	}
	if slices.Contains(set, typ) {
		return set
	}
	return append(set, typ)
}

// AddJob adds a pre-built job/trigger pair.
func (m *Module) AddJob(def job.Definition, trig job.Trigger) error {
	def = def.Clone()
	trig = trig.Clone()
	if def.Key.IsZero() {
		return errors.New("job name is required")
	}
	if strings.TrimSpace(def.Type) == "" {
		return fmt.Errorf("job %s: type is required", def.Key)
	}
	if err := m.eval.Validate(trig.Expression); err != nil {
		return fmt.Errorf("job %s: %w", def.Key, err)
	}
	if _, dup := m.jobKeys[def.Key]; dup {
		return &job.DuplicateJobError{Key: def.Key}
	}
	if trig.JobKey.IsZero() {
		trig.JobKey = def.Key
	}
	m.jobKeys[def.Key] = struct{}{}
	m.pairs = append(m.pairs, pair{def: def, trig: trig})
	return nil
}

// AddScheduledJob builds a pair from a declarative record.
func (m *Module) AddScheduledJob(spec ScheduleSpec) error {
	if strings.TrimSpace(spec.JobName) == "" {
		return errors.New("job name is required")
	}
	if strings.TrimSpace(spec.JobType) == "" {
		return fmt.Errorf("job %q: type is required", spec.JobName)
	}

	var loc *time.Location
	if strings.TrimSpace(spec.TimeZone) != "" {
		var warn *job.ConfigurationWarning
		loc, warn = trigger.ResolveLocation(spec.TimeZone)
		if warn != nil {
			warn.Field = "jobs." + spec.JobName + ".timezone"
			m.warnings = append(m.warnings, warn)
			m.opts.Log.Warn("invalid timezone; falling back to Local", logx.String("job", spec.JobName), logx.String("tz", spec.TimeZone))
		}
	}

	triggerName := spec.TriggerName
	if strings.TrimSpace(triggerName) == "" {
		triggerName = spec.JobType
	}
	key := job.NewJobKey(spec.JobName, spec.JobGroup)
	def := job.Definition{
		Key:              key,
		Type:             strings.TrimSpace(spec.JobType),
		Description:      spec.Description,
		Durable:          spec.Durable,
		RequestsRecovery: spec.Recover,
		Volatile:         spec.Volatile,
		ListenerNames:    spec.JobListenerNames,
		Data:             spec.Data,
		Timeout:          spec.Timeout,
	}
	trig := job.Trigger{
		Key:           job.NewTriggerKey(triggerName, spec.TriggerGroup),
		JobKey:        key,
		Expression:    spec.CronExpression,
		Location:      loc,
		StartAt:       spec.StartAt,
		EndAt:         spec.EndAt,
		ListenerNames: spec.TriggerListenerNames,
	}
	return m.AddJob(def, trig)
}

// Warnings returns configuration warnings collected so far.
func (m *Module) Warnings() []*job.ConfigurationWarning {
	return append([]*job.ConfigurationWarning(nil), m.warnings...)
}

// Jobs returns copies of the collected pairs in insertion order.
func (m *Module) Jobs() []registry.Pair {
	out := make([]registry.Pair, 0, len(m.pairs))
	for _, p := range m.pairs {
		out = append(out, registry.Pair{Job: p.def.Clone(), Trigger: p.trig.Clone()})
	}
	return out
}

// Configure validates listener references and binds SchedulerService as a
// singleton. The scheduler is built on first resolution.
func (m *Module) Configure(c *container.Container) error {
	if err := m.validate(); err != nil {
		return err
	}
	// Listeners and jobs are resolved through c at dispatch time, outside the
	// scheduler's own construction.
	return c.Bind(SchedulerService, func(container.Resolver) (any, error) {
		return m.build(c)
	}, container.Singleton)
}

func (m *Module) validate() error {
	var errs []error
	for _, p := range m.pairs {
		for _, name := range p.def.ListenerNames {
			if !slices.Contains(m.job, name) {
				errs = append(errs, fmt.Errorf("%w: job %s references job listener %q", ErrUnknownListener, p.def.Key, name))
			}
		}
		for _, name := range p.trig.ListenerNames {
			if !slices.Contains(m.trigger, name) {
				errs = append(errs, fmt.Errorf("%w: trigger %s references trigger listener %q", ErrUnknownListener, p.trig.Key, name))
			}
		}
	}
	return multierr.Combine(errs...)
}

func (m *Module) build(c *container.Container) (*scheduler.Service, error) {
	bus := listener.NewBus(c)
	for _, typ := range m.globalJob {
		bus.RegisterGlobal(listener.CapabilityJob, typ)
	}
	for _, typ := range m.globalTrigger {
		bus.RegisterGlobal(listener.CapabilityTrigger, typ)
	}
	for _, typ := range m.scheduler {
		bus.RegisterGlobal(listener.CapabilityScheduler, typ)
	}

	eng := engine.New(m.opts.Engine, m.opts.Log.With(logx.String("comp", "taskengine")), m.opts.Bus)
	s := scheduler.New(m.opts.Scheduler, eng, jobfactory.New(c), bus,
		m.opts.Log.With(logx.String("comp", "scheduler")), m.opts.Bus, m.opts.SchedulerOptions...)
	for _, p := range m.pairs {
		if err := s.RegisterJob(p.def, p.trig); err != nil {
			return nil, err
		}
	}
	return s, nil
}
