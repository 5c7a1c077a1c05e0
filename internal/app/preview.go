package app

import (
	"fmt"
	"strings"
	"time"

	"cronwire/internal/config"
	"cronwire/internal/task/job"
	"cronwire/internal/task/trigger"
)

// JobPreview lists the upcoming fire times of one configured job.
type JobPreview struct {
	Job      string
	Trigger  string
	Cron     string
	Location string
	Next     []time.Time
}

// Preview validates cfg and computes up to n fire times per job after from,
// honoring each job's timezone and start/end window. Unknown timezones fall
// back to Local and are returned as warnings.
func Preview(cfg *config.Config, from time.Time, n int) ([]JobPreview, []*job.ConfigurationWarning, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, nil, err
	}
	var warnings []*job.ConfigurationWarning
	resolve := func(field, id string) *time.Location {
		loc, warn := trigger.ResolveLocation(id)
		if warn != nil {
			warn.Field = field
			warnings = append(warnings, warn)
		}
		return loc
	}

	defLoc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		defLoc = resolve("scheduler.timezone", tz)
	}

	eval := trigger.NewEvaluator()
	out := make([]JobPreview, 0, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		loc := defLoc
		if tz := strings.TrimSpace(jc.Timezone); tz != "" {
			loc = resolve("jobs."+jc.Name+".timezone", tz)
		}
		start, end, err := jc.Window()
		if err != nil {
			return nil, nil, fmt.Errorf("jobs.%s: %w", jc.Name, err)
		}
		name := jc.Trigger
		if strings.TrimSpace(name) == "" {
			name = jc.Type
		}
		t := job.Trigger{
			Key:        job.NewTriggerKey(name, jc.TriggerGroup),
			JobKey:     job.NewJobKey(jc.Name, jc.Group),
			Expression: jc.Cron,
			Location:   loc,
			StartAt:    start,
			EndAt:      end,
		}
		p := JobPreview{Job: t.JobKey.String(), Trigger: t.Key.String(), Cron: jc.Cron, Location: loc.String()}
		after := from
		for len(p.Next) < n {
			next, ok, err := eval.Next(t, after)
			if err != nil {
				return nil, nil, fmt.Errorf("jobs.%s: %w", jc.Name, err)
			}
			if !ok {
				break
			}
			p.Next = append(p.Next, next)
			after = next
		}
		out = append(out, p)
	}
	return out, warnings, nil
}
