package config

import (
	"reflect"
	"strings"

	"cronwire/internal/task/job"
	logx "cronwire/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists changed top-level sections in a fixed order.
	Sections []string
	// Fields are safe structured attrs describing the new values.
	Fields []logx.Field
	// Jobs lists job names that were added, removed or modified.
	Jobs []string
	// RestartRequired is true when anything other than logging changed.
	// The scheduler registry is sealed once started.
	RestartRequired bool
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares oldCfg and newCfg section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	ol, nl := oldCfg.Logging, newCfg.Logging
	if !strings.EqualFold(strings.TrimSpace(ol.Level), strings.TrimSpace(nl.Level)) ||
		ol.Console != nl.Console ||
		ol.File.Enabled != nl.File.Enabled ||
		strings.TrimSpace(ol.File.Path) != strings.TrimSpace(nl.File.Path) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		s := newCfg.Scheduler
		ch.Sections = append(ch.Sections, "scheduler")
		ch.Fields = append(ch.Fields,
			logx.String("scheduler.timezone", s.Timezone),
			logx.Int("scheduler.workers", s.Workers),
			logx.String("scheduler.misfire_threshold", s.MisfireThreshold),
			logx.Bool("scheduler.wait_for_jobs", s.WaitForJobs),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		ch.Sections = append(ch.Sections, "storage")
		driver := "none"
		if newCfg.Storage != nil && strings.TrimSpace(newCfg.Storage.Driver) != "" {
			driver = newCfg.Storage.Driver
		}
		ch.Fields = append(ch.Fields, logx.String("storage.driver", driver))
	}

	if !reflect.DeepEqual(oldCfg.Listeners, newCfg.Listeners) {
		ch.Sections = append(ch.Sections, "listeners")
	}

	ch.Jobs = diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(ch.Jobs) > 0 {
		ch.Sections = append(ch.Sections, "jobs")
		ch.Fields = append(ch.Fields,
			logx.Int("jobs.count", len(newCfg.Jobs)),
			logx.Int("jobs.changed", len(ch.Jobs)),
		)
	}

	for _, s := range ch.Sections {
		if s != "logging" {
			ch.RestartRequired = true
			break
		}
	}
	return ch
}

// diffJobs returns "group.name" keys that differ, in new-config order
// followed by removed jobs in old-config order.
func diffJobs(oldJobs, newJobs []JobConfig) []string {
	key := func(j JobConfig) string { return job.NewJobKey(j.Name, j.Group).String() }
	prev := make(map[string]JobConfig, len(oldJobs))
	for _, j := range oldJobs {
		prev[key(j)] = j
	}
	var out []string
	seen := make(map[string]struct{}, len(newJobs))
	for _, j := range newJobs {
		k := key(j)
		seen[k] = struct{}{}
		if o, ok := prev[k]; !ok || !reflect.DeepEqual(o, j) {
			out = append(out, k)
		}
	}
	for _, j := range oldJobs {
		if _, ok := seen[key(j)]; !ok {
			out = append(out, key(j))
		}
	}
	return out
}
