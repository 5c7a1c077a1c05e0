package app

import (
	"fmt"
	"strings"
	"time"

	"cronwire/internal/config"
	"cronwire/internal/module"
	"cronwire/internal/storage"
	"cronwire/internal/task/engine"
	"cronwire/internal/task/job"
	"cronwire/internal/task/scheduler"
	"cronwire/internal/task/trigger"
	logx "cronwire/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

// mapSchedulerConfig resolves the scheduler section. An unknown timezone
// falls back to the local zone and is reported as a warning.
func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, engine.Config, *job.ConfigurationWarning, error) {
	s := cfg.Scheduler
	var (
		sc   = scheduler.Config{Name: strings.TrimSpace(s.Name)}
		ec   = engine.Config{Workers: s.Workers, HistorySize: s.HistorySize}
		warn *job.ConfigurationWarning
		err  error
	)
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		sc.Location, warn = trigger.ResolveLocation(tz)
		if warn != nil {
			warn.Field = "scheduler.timezone"
		}
	}
	if sc.MisfireThreshold, err = config.ParseDurationOrDefault("scheduler.misfire_threshold", s.MisfireThreshold, scheduler.DefaultMisfireThreshold); err != nil {
		return scheduler.Config{}, engine.Config{}, nil, err
	}
	if sc.RetryInterval, err = config.ParseDurationOrDefault("scheduler.retry_interval", s.RetryInterval, scheduler.DefaultRetryInterval); err != nil {
		return scheduler.Config{}, engine.Config{}, nil, err
	}
	if sc.ShutdownTimeout, err = config.ParseDurationOrDefault("scheduler.shutdown_timeout", s.ShutdownTimeout, scheduler.DefaultShutdownTimeout); err != nil {
		return scheduler.Config{}, engine.Config{}, nil, err
	}
	if ec.DefaultTimeout, err = config.ParseDurationField("scheduler.default_timeout", s.DefaultTimeout); err != nil {
		return scheduler.Config{}, engine.Config{}, nil, err
	}
	return sc, ec, warn, nil
}

func scheduleSpec(j config.JobConfig) (module.ScheduleSpec, error) {
	timeout, err := config.ParseDurationField("jobs."+j.Name+".timeout", j.Timeout)
	if err != nil {
		return module.ScheduleSpec{}, err
	}
	start, end, err := j.Window()
	if err != nil {
		return module.ScheduleSpec{}, fmt.Errorf("jobs.%s: %w", j.Name, err)
	}
	return module.ScheduleSpec{
		JobName:              j.Name,
		JobGroup:             j.Group,
		JobType:              j.Type,
		TriggerName:          j.Trigger,
		TriggerGroup:         j.TriggerGroup,
		CronExpression:       j.Cron,
		TimeZone:             j.Timezone,
		Durable:              j.Durable,
		Recover:              j.Recover,
		Volatile:             j.Volatile,
		Timeout:              timeout,
		StartAt:              start,
		EndAt:                end,
		Description:          j.Description,
		JobListenerNames:     j.JobListeners,
		TriggerListenerNames: j.TriggerListeners,
		Data:                 j.Data,
	}, nil
}

// buildModule declares every listener and job of cfg on a new module.
// audit adds the storage audit listener as a global job and trigger listener.
func buildModule(cfg *config.Config, opts module.Options, audit bool) (*module.Module, error) {
	m := module.New(opts)
	if audit {
		m.AddGlobalJobListener(storage.AuditListenerType)
		m.AddGlobalTriggerListener(storage.AuditListenerType)
	}
	l := cfg.Listeners
	for _, typ := range l.GlobalJob {
		m.AddGlobalJobListener(typ)
	}
	for _, typ := range l.Job {
		m.AddJobListener(typ)
	}
	for _, typ := range l.GlobalTrigger {
		m.AddGlobalTriggerListener(typ)
	}
	for _, typ := range l.Trigger {
		m.AddTriggerListener(typ)
	}
	for _, typ := range l.Scheduler {
		m.AddSchedulerListener(typ)
	}
	for _, jc := range cfg.Jobs {
		spec, err := scheduleSpec(jc)
		if err != nil {
			return nil, err
		}
		if err := m.AddScheduledJob(spec); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// listenerTypes returns every listener type referenced by cfg.
func listenerTypes(cfg *config.Config) []string {
	l := cfg.Listeners
	var out []string
	for _, set := range [][]string{l.GlobalJob, l.Job, l.GlobalTrigger, l.Trigger, l.Scheduler} {
		out = append(out, set...)
	}
	return out
}
