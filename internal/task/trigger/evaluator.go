package trigger

import (
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cronwire/internal/task/job"
)

// Evaluator parses cron expressions and computes next fire times.
// Parsed schedules are cached by expression; it is safe for concurrent use.
type Evaluator struct {
	parser cron.Parser

	mu    sync.RWMutex
	cache map[string]cron.Schedule
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cache:  map[string]cron.Schedule{},
	}
}

// Validate reports whether expression parses.
func (e *Evaluator) Validate(expression string) error {
	_, err := e.parse(expression)
	return err
}

func (e *Evaluator) parse(expression string) (cron.Schedule, error) {
	expr := strings.TrimSpace(expression)
	e.mu.RLock()
	sched, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return sched, nil
	}
	if expr == "" {
		return nil, &job.InvalidScheduleError{Expression: expression, Err: errEmpty}
	}
	sched, err := e.parser.Parse(expr)
	if err != nil {
		return nil, &job.InvalidScheduleError{Expression: expression, Err: err}
	}
	e.mu.Lock()
	e.cache[expr] = sched
	e.mu.Unlock()
	return sched, nil
}

// NextFireTime returns the first fire instant strictly after `after`, evaluated
// in loc (nil means time.Local). ok is false when the schedule has no future
// occurrence. The result is expressed in loc.
func (e *Evaluator) NextFireTime(expression string, loc *time.Location, after time.Time) (next time.Time, ok bool, err error) {
	sched, err := e.parse(expression)
	if err != nil {
		return time.Time{}, false, err
	}
	if loc == nil {
		loc = time.Local
	}
	next = nextIn(sched, loc, after)
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

// Next applies the trigger's StartAt/EndAt bounds on top of NextFireTime.
func (e *Evaluator) Next(t job.Trigger, after time.Time) (time.Time, bool, error) {
	ref := after
	if !t.StartAt.IsZero() && t.StartAt.After(after) {
		// StartAt itself is a valid fire time.
		ref = t.StartAt.Add(-time.Nanosecond)
	}
	next, ok, err := e.NextFireTime(t.Expression, t.Loc(), ref)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	if !t.EndAt.IsZero() && next.After(t.EndAt) {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

// Preview returns up to n upcoming fire times after from.
func (e *Evaluator) Preview(expression string, loc *time.Location, from time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, max(n, 0))
	t := from
	for i := 0; i < n; i++ {
		next, ok, err := e.NextFireTime(expression, loc, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, next)
		t = next
	}
	return out, nil
}

// nextIn evaluates sched in loc. Expressions carrying their own CRON_TZ/TZ
// prefix keep that zone.
func nextIn(sched cron.Schedule, loc *time.Location, after time.Time) time.Time {
	if ss, ok := sched.(*cron.SpecSchedule); ok && ss.Location == time.Local && loc != time.Local {
		cp := *ss
		cp.Location = loc
		return cp.Next(after.In(loc)).In(loc)
	}
	return sched.Next(after.In(loc)).In(loc)
}
