package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"cronwire/internal/config"
	"cronwire/internal/container"
	"cronwire/internal/module"
	"cronwire/internal/storage"
	"cronwire/internal/task/job"
	"cronwire/internal/task/scheduler"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	body = strings.ReplaceAll(body, "$DIR", filepath.ToSlash(dir))
	p := filepath.Join(dir, "cronwire.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

type outcome struct {
	job string
	err error
}

type probeListener struct{ ch chan outcome }

func (p *probeListener) JobToBeExecuted(context.Context, *job.ExecutionContext) error { return nil }

func (p *probeListener) JobWasExecuted(_ context.Context, ec *job.ExecutionContext, err error) error {
	p.ch <- outcome{job: ec.JobKey().String(), err: err}
	return nil
}

func probeBindings(ran chan<- string, l *probeListener) Option {
	return WithBindings(func(c *container.Container) error {
		if err := c.BindInstance("probe.job", job.JobFunc(func(_ context.Context, ec *job.ExecutionContext) error {
			ran <- ec.Param("tag")
			return nil
		})); err != nil {
			return err
		}
		return c.BindInstance("probe.listener", l)
	})
}

const runConfig = `{
  "logging": {"level": "error"},
  "scheduler": {"timezone": "UTC", "workers": 2, "wait_for_jobs": true},
  "storage": {"driver": "file", "path": "$DIR/audit/cronwire.db"},
  "listeners": {"job": ["probe.listener"]},
  "jobs": [
    {"name": "report", "group": "daily", "type": "probe.job", "cron": "0 0 12 * * ?",
     "job_listeners": ["probe.listener"], "data": {"tag": "noon"}}
  ]
}`

func TestAppRunsConfiguredJobs(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(epoch)
	ran := make(chan string, 4)
	probe := &probeListener{ch: make(chan outcome, 4)}

	a, err := NewApp(writeConfig(t, runConfig),
		WithoutConfigWatch(),
		WithSchedulerOptions(scheduler.WithClock(clock)),
		probeBindings(ran, probe),
	)
	require.NoError(t, err)
	require.NotNil(t, a.Store())
	assert.Empty(t, a.Warnings())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	next, ok := a.Scheduler().NextFireTime("report", "daily")
	require.True(t, ok)
	assert.Equal(t, epoch.Add(12*time.Hour), next)

	clock.BlockUntil(1)
	clock.Advance(12 * time.Hour)

	select {
	case tag := <-ran:
		assert.Equal(t, "noon", tag)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
	select {
	case o := <-probe.ch:
		assert.Equal(t, "daily.report", o.job)
		assert.NoError(t, o.err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener not notified")
	}

	// Global audit listener runs before the scoped probe listener.
	recent, err := a.Store().RecentExecutions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, storage.OutcomeSucceeded, recent[0].Outcome)
	assert.Equal(t, "daily.report", recent[0].Job)
	assert.Equal(t, "DEFAULT.probe.job", recent[0].Trigger)

	require.NoError(t, a.Stop(context.Background(), StopAppStop))
	require.NoError(t, a.Stop(context.Background(), StopAppStop), "second stop is a no-op")
	assert.Equal(t, scheduler.StateStopped, a.Scheduler().State())
}

func TestNewAppErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantIs  error
		wantMsg string
		wantN   int
	}{
		{
			name:    "unbound listener type",
			body:    `{"listeners": {"global_job": ["nope"]}, "jobs": []}`,
			wantIs:  module.ErrUnknownListener,
			wantMsg: `"nope"`,
		},
		{
			name:    "every unbound listener type",
			body:    `{"listeners": {"global_job": ["nope"], "scheduler": ["nah"]}, "jobs": []}`,
			wantIs:  module.ErrUnknownListener,
			wantMsg: `"nah"`,
			wantN:   2,
		},
		{
			name:    "job references undeclared listener",
			body:    `{"jobs": [{"name": "a", "type": "log", "cron": "@hourly", "job_listeners": ["x"]}]}`,
			wantIs:  module.ErrUnknownListener,
			wantMsg: `"x"`,
		},
		{
			name:    "invalid cron",
			body:    `{"jobs": [{"name": "a", "type": "log", "cron": "every day"}]}`,
			wantMsg: "cron",
		},
		{
			name:    "sqlite without path",
			body:    `{"storage": {"driver": "sqlite"}, "jobs": []}`,
			wantMsg: "storage.path",
		},
		{
			name:    "unknown field",
			body:    `{"jobz": []}`,
			wantMsg: "unknown field",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewApp(writeConfig(t, tt.body), WithoutConfigWatch())
			require.Error(t, err)
			if tt.wantIs != nil {
				require.ErrorIs(t, err, tt.wantIs)
			}
			assert.Contains(t, err.Error(), tt.wantMsg)
			if tt.wantN > 0 {
				assert.Len(t, multierr.Errors(err), tt.wantN)
			}
		})
	}
}

func TestNewAppTimezoneFallback(t *testing.T) {
	t.Parallel()

	body := `{
  "scheduler": {"timezone": "Mars/Olympus"},
  "jobs": [{"name": "a", "type": "log", "cron": "@hourly", "timezone": "Nowhere/Land", "data": {"message": "x"}}]
}`
	a, err := NewApp(writeConfig(t, body), WithoutConfigWatch())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopAppStop) })

	var fields []string
	for _, w := range a.Warnings() {
		fields = append(fields, w.Field)
	}
	assert.ElementsMatch(t, []string{"scheduler.timezone", "jobs.a.timezone"}, fields)
	assert.Equal(t, time.Local, a.Scheduler().Config().Location)
}

func TestApplyConfigKeepsRunning(t *testing.T) {
	t.Parallel()

	a, err := NewApp(writeConfig(t, `{"logging": {"level": "error"}, "jobs": []}`), WithoutConfigWatch())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopAppStop) })

	prev := a.cfgm.Get()
	next := *prev
	next.Logging.Level = "debug"
	next.Jobs = []config.JobConfig{{Name: "b", Type: "log", Cron: "@daily"}}
	a.applyConfig(prev, &next)

	assert.Equal(t, "debug", a.logs.Config().Level)
	assert.Equal(t, 0, a.Scheduler().Registry().Len(), "job changes need a restart")
}

func TestPreview(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Timezone: "UTC"},
		Jobs: []config.JobConfig{
			{Name: "noon", Type: "log", Cron: "0 0 12 * * ?"},
			{Name: "tokyo", Type: "log", Cron: "0 0 9 * * ?", Timezone: "Asia/Tokyo"},
			{Name: "bounded", Type: "log", Cron: "@daily", EndAt: "2024-01-02T12:00:00Z"},
			{Name: "lost", Type: "log", Cron: "@daily", Timezone: "Bogus/Zone"},
		},
	}
	got, warnings, err := Preview(cfg, epoch, 3)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "DEFAULT.noon", got[0].Job)
	assert.Equal(t, "DEFAULT.log", got[0].Trigger)
	assert.Equal(t, []time.Time{
		epoch.Add(12 * time.Hour),
		epoch.Add(36 * time.Hour),
		epoch.Add(60 * time.Hour),
	}, got[0].Next)

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	// 09:00 Tokyo on Jan 1 is exactly from; fire times are strictly after it.
	assert.True(t, time.Date(2024, 1, 2, 9, 0, 0, 0, tokyo).Equal(got[1].Next[0]), got[1].Next[0])

	assert.Len(t, got[2].Next, 1, "end_at stops the preview")

	require.Len(t, warnings, 1)
	assert.Equal(t, "jobs.lost.timezone", warnings[0].Field)

	_, _, err = Preview(&config.Config{Jobs: []config.JobConfig{{Name: "x", Type: "log", Cron: "bad"}}}, epoch, 1)
	require.Error(t, err)
}
