package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"cronwire/internal/task/job"
	"cronwire/internal/task/trigger"
	logx "cronwire/pkg/logx"
)

// Validate checks everything that can be checked without building the
// scheduler. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	var err error
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if !logx.ValidLevel(lvl) {
			err = multierr.Append(err, fmt.Errorf("logging.level: unknown level %q", lvl))
		}
	}

	s := cfg.Scheduler
	if s.Workers < 0 {
		err = multierr.Append(err, fmt.Errorf("scheduler.workers must be >= 0"))
	}
	if s.HistorySize < 0 {
		err = multierr.Append(err, fmt.Errorf("scheduler.history_size must be >= 0"))
	}
	for path, raw := range map[string]string{
		"scheduler.misfire_threshold": s.MisfireThreshold,
		"scheduler.retry_interval":    s.RetryInterval,
		"scheduler.shutdown_timeout":  s.ShutdownTimeout,
		"scheduler.default_timeout":   s.DefaultTimeout,
	} {
		if _, derr := ParseDurationField(path, raw); derr != nil {
			err = multierr.Append(err, derr)
		}
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			err = multierr.Append(err, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		if _, derr := ParseDurationField("storage.busy_timeout", st.BusyTimeout); derr != nil {
			err = multierr.Append(err, derr)
		}
	}

	eval := trigger.NewEvaluator()
	seen := map[string]int{}
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		if strings.TrimSpace(j.Name) == "" {
			err = multierr.Append(err, fmt.Errorf("%s.name is required", path))
		} else {
			path = fmt.Sprintf("jobs[%d](%s)", i, j.Name)
			key := job.NewJobKey(j.Name, j.Group).String()
			if prev, dup := seen[key]; dup {
				err = multierr.Append(err, fmt.Errorf("%s: duplicate of jobs[%d]", path, prev))
			}
			seen[key] = i
		}
		if strings.TrimSpace(j.Type) == "" {
			err = multierr.Append(err, fmt.Errorf("%s.type is required", path))
		}
		if verr := eval.Validate(j.Cron); verr != nil {
			err = multierr.Append(err, fmt.Errorf("%s.cron: %w", path, verr))
		}
		if _, derr := ParseDurationField(path+".timeout", j.Timeout); derr != nil {
			err = multierr.Append(err, derr)
		}
		if _, _, werr := j.Window(); werr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", path, werr))
		}
	}
	return err
}

// Window parses StartAt and EndAt. Empty values are zero times.
func (j JobConfig) Window() (start, end time.Time, err error) {
	if s := strings.TrimSpace(j.StartAt); s != "" {
		if start, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("start_at: %w", err)
		}
	}
	if s := strings.TrimSpace(j.EndAt); s != "" {
		if end, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end_at: %w", err)
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_at is before start_at")
	}
	return start, end, nil
}
