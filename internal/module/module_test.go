package module

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"cronwire/internal/container"
	"cronwire/internal/task/job"
	"cronwire/internal/task/scheduler"
)

type executions struct {
	mu   sync.Mutex
	seen []string
	done chan struct{}
}

func (e *executions) JobToBeExecuted(context.Context, *job.ExecutionContext) error { return nil }

func (e *executions) JobWasExecuted(_ context.Context, ec *job.ExecutionContext, err error) error {
	e.mu.Lock()
	e.seen = append(e.seen, ec.JobKey().String())
	e.mu.Unlock()
	if err == nil {
		e.done <- struct{}{}
	}
	return nil
}

func TestAddScheduledJobDefaults(t *testing.T) {
	t.Parallel()
	m := New(Options{})
	require.NoError(t, m.AddScheduledJob(ScheduleSpec{
		JobName:        "report",
		JobGroup:       "daily",
		JobType:        "reports.Daily",
		CronExpression: "0 0 12 * * ?",
		TimeZone:       "UTC",
		Durable:        true,
		Data:           map[string]string{"to": "ops"},
	}))
	require.NoError(t, m.AddScheduledJob(ScheduleSpec{
		JobName:        "cleanup",
		JobType:        "cleanup",
		TriggerName:    "nightly",
		CronExpression: "@daily",
		TimeZone:       "Nowhere/Special",
	}))

	jobs := m.Jobs()
	require.Len(t, jobs, 2)
	report := jobs[0]
	assert.Equal(t, job.NewTriggerKey("reports.Daily", ""), report.Trigger.Key, "trigger name defaults to the job type")
	assert.Equal(t, report.Job.Key, report.Trigger.JobKey)
	assert.Equal(t, "UTC", report.Trigger.Loc().String())
	assert.True(t, report.Job.Durable)
	assert.Equal(t, "ops", report.Job.Data["to"])

	cleanup := jobs[1]
	assert.Equal(t, job.NewTriggerKey("nightly", ""), cleanup.Trigger.Key)
	assert.Equal(t, time.Local, cleanup.Trigger.Loc())
	warnings := m.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "Nowhere/Special", warnings[0].Value)
}

func TestAddJobRejections(t *testing.T) {
	t.Parallel()
	m := New(Options{})
	require.NoError(t, m.AddScheduledJob(ScheduleSpec{JobName: "a", JobType: "t", CronExpression: "@hourly"}))

	tests := []struct {
		name  string
		spec  ScheduleSpec
		check func(t *testing.T, err error)
	}{
		{
			name: "bad cron",
			spec: ScheduleSpec{JobName: "b", JobType: "t", CronExpression: "61 * * * *"},
			check: func(t *testing.T, err error) {
				var ise *job.InvalidScheduleError
				assert.True(t, errors.As(err, &ise))
			},
		},
		{
			name:  "missing type",
			spec:  ScheduleSpec{JobName: "c", CronExpression: "@hourly"},
			check: func(t *testing.T, err error) { assert.Error(t, err) },
		},
		{
			name:  "missing name",
			spec:  ScheduleSpec{JobType: "t", CronExpression: "@hourly"},
			check: func(t *testing.T, err error) { assert.Error(t, err) },
		},
		{
			name: "duplicate",
			spec: ScheduleSpec{JobName: "a", JobType: "t", TriggerName: "other", CronExpression: "@hourly"},
			check: func(t *testing.T, err error) {
				var dup *job.DuplicateJobError
				assert.True(t, errors.As(err, &dup))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, m.AddScheduledJob(tt.spec))
		})
	}
	assert.Len(t, m.Jobs(), 1)
}

func TestListenerSetsIgnoreDuplicates(t *testing.T) {
	t.Parallel()
	m := New(Options{})
	m.AddGlobalJobListener("audit").AddGlobalJobListener("audit").AddGlobalJobListener(" ")
	m.AddJobListener("mail").AddJobListener("mail")
	assert.Equal(t, []string{"audit"}, m.globalJob)
	assert.Equal(t, []string{"mail"}, m.job)
}

func TestConfigureRejectsUnknownListener(t *testing.T) {
	t.Parallel()
	m := New(Options{})
	m.AddJobListener("mail")
	require.NoError(t, m.AddScheduledJob(ScheduleSpec{
		JobName: "a", JobType: "t", CronExpression: "@hourly",
		JobListenerNames:     []string{"mail", "pager"},
		TriggerListenerNames: []string{"missing"},
	}))

	c := container.New()
	err := m.Configure(c)
	require.ErrorIs(t, err, ErrUnknownListener)
	assert.Contains(t, err.Error(), "pager")
	assert.Contains(t, err.Error(), "missing")
	assert.Len(t, multierr.Errors(err), 2, "every unknown reference is reported")
	assert.False(t, c.Bound(SchedulerService))
}

func TestConfigureBindsSchedulerSingleton(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := New(Options{
		Scheduler:        scheduler.Config{Name: "main", Location: time.UTC},
		SchedulerOptions: []scheduler.Option{scheduler.WithClock(clock)},
	})
	m.AddGlobalJobListener("audit")
	m.AddJobListener("audit")
	require.NoError(t, m.AddScheduledJob(ScheduleSpec{
		JobName:          "report",
		JobGroup:         "daily",
		JobType:          "report",
		CronExpression:   "0 0 12 * * ?",
		JobListenerNames: []string{"audit"},
	}))

	exec := &executions{done: make(chan struct{}, 4)}
	c := container.New()
	require.NoError(t, c.BindInstance("audit", exec))
	require.NoError(t, c.Bind("report", func(container.Resolver) (any, error) {
		return job.JobFunc(func(context.Context, *job.ExecutionContext) error { return nil }), nil
	}, container.Prototype))
	require.NoError(t, m.Configure(c))

	s1, err := container.Resolve[*scheduler.Service](c, SchedulerService)
	require.NoError(t, err)
	s2, err := container.Resolve[*scheduler.Service](c, SchedulerService)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, s1.Registry().Len())
	assert.Equal(t, "main", s1.Name())

	require.NoError(t, s1.Start(context.Background()))
	defer s1.Shutdown(context.Background(), true)
	next, ok := s1.NextFireTime("report", "daily")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), next)

	clock.BlockUntil(1)
	clock.Advance(12 * time.Hour)
	for i := 0; i < 2; i++ {
		select {
		case <-exec.done:
		case <-time.After(3 * time.Second):
			t.Fatal("listener not notified")
		}
	}
	// Same listener registered globally and scoped: notified twice.
	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Equal(t, []string{"daily.report", "daily.report"}, exec.seen)
}
