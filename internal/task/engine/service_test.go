package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronwire/internal/eventbus"
	logx "cronwire/pkg/logx"
)

func newTestEngine(t *testing.T, workers int) *Service {
	t.Helper()
	s := New(Config{Workers: workers, HistorySize: 10}, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	return s
}

// outcome collects Done results.
type outcome struct {
	mu   sync.Mutex
	errs []error
	ch   chan error
}

func newOutcome() *outcome { return &outcome{ch: make(chan error, 16)} }

func (o *outcome) done(err error) {
	o.mu.Lock()
	o.errs = append(o.errs, err)
	o.mu.Unlock()
	o.ch <- err
}

func (o *outcome) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.errs)
}

func (o *outcome) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-o.ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
		return nil
	}
}

func TestReserveExhaustsPool(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, 2)
	defer s.Stop(context.Background(), false)

	r1, err := s.Reserve()
	require.NoError(t, err)
	r2, err := s.Reserve()
	require.NoError(t, err)

	_, err = s.Reserve()
	assert.ErrorIs(t, err, ErrPoolExhausted)

	r1.Release()
	r1.Release() // second release is a no-op
	r3, err := s.Reserve()
	require.NoError(t, err)
	_, err = s.Reserve()
	assert.ErrorIs(t, err, ErrPoolExhausted)

	r2.Release()
	r3.Release()
	assert.Equal(t, 2, s.Snapshot().Free)
	assert.EqualValues(t, 2, s.Snapshot().Exhausted)
}

func TestSubmitReportsOutcome(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	tests := []struct {
		name  string
		run   func(ctx context.Context) error
		check func(t *testing.T, err error)
	}{
		{
			name:  "success",
			run:   func(context.Context) error { return nil },
			check: func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name:  "error",
			run:   func(context.Context) error { return boom },
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, boom) },
		},
		{
			name: "panic",
			run:  func(context.Context) error { panic("kaboom") },
			check: func(t *testing.T, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "kaboom")
			},
		},
		{
			name: "timeout",
			run: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, context.DeadlineExceeded) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestEngine(t, 1)
			defer s.Stop(context.Background(), true)

			o := newOutcome()
			r, err := s.Reserve()
			require.NoError(t, err)
			require.NoError(t, r.Submit(Task{Name: tt.name, Timeout: 20 * time.Millisecond, Run: tt.run, Done: o.done}))
			tt.check(t, o.wait(t))

			// The permit comes back once the worker is idle again.
			require.Eventually(t, func() bool { return s.Snapshot().Free == 1 }, time.Second, 5*time.Millisecond)
			assert.Equal(t, 1, o.count())
		})
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, 1)
	defer s.Stop(context.Background(), false)

	r, err := s.Reserve()
	require.NoError(t, err)
	assert.Error(t, r.Submit(Task{Name: "no-run"}))
	assert.ErrorIs(t, r.Submit(Task{Name: "again", Run: func(context.Context) error { return nil }}), ErrReservation)

	// The rejected submit gave the permit back.
	r, err = s.Reserve()
	require.NoError(t, err)
	r.Release()
}

func TestStopWaitDrains(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, 2)
	o := newOutcome()
	var ran atomic.Int32
	for i := 0; i < 2; i++ {
		r, err := s.Reserve()
		require.NoError(t, err)
		require.NoError(t, r.Submit(Task{Name: "slow", Done: o.done, Run: func(context.Context) error {
			time.Sleep(30 * time.Millisecond)
			ran.Add(1)
			return nil
		}}))
	}

	s.Stop(context.Background(), true)
	assert.EqualValues(t, 2, ran.Load())
	assert.Equal(t, 2, o.count())
	for i := 0; i < 2; i++ {
		assert.NoError(t, o.wait(t))
	}

	_, err := s.Reserve()
	assert.ErrorIs(t, err, ErrStopped)
	snap := s.Snapshot()
	assert.False(t, snap.Running)
	assert.EqualValues(t, 2, snap.Succeeded)
	assert.Len(t, snap.History, 2)
}

func TestStopTimeoutCancelsStuckTask(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, 1)
	o := newOutcome()
	release := make(chan struct{})
	started := make(chan struct{})

	r, err := s.Reserve()
	require.NoError(t, err)
	require.NoError(t, r.Submit(Task{Name: "stubborn", Done: o.done, Run: func(context.Context) error {
		close(started)
		<-release // ignores cancellation
		return nil
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	begin := time.Now()
	s.Stop(ctx, true)
	assert.Less(t, time.Since(begin), time.Second)

	assert.ErrorIs(t, o.wait(t), ErrCancelled)
	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, o.count(), "late result is discarded")
	assert.EqualValues(t, 1, s.Snapshot().Cancelled)
}

func TestStopWithoutWaitCancelsContext(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, 1)
	o := newOutcome()
	sawCancel := make(chan struct{})
	started := make(chan struct{})

	r, err := s.Reserve()
	require.NoError(t, err)
	require.NoError(t, r.Submit(Task{Name: "cooperative", Done: o.done, Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(sawCancel)
		return ctx.Err()
	}}))
	<-started

	s.Stop(context.Background(), false)
	assert.ErrorIs(t, o.wait(t), ErrCancelled)
	select {
	case <-sawCancel:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{Workers: 1}, logx.Nop(), bus)
	s.Start(context.Background())
	o := newOutcome()
	r, err := s.Reserve()
	require.NoError(t, err)
	require.NoError(t, r.Submit(Task{ID: "fire-1", Name: "evt", Done: o.done, Run: func(context.Context) error { return errors.New("x") }}))
	o.wait(t)
	s.Stop(context.Background(), true)

	var types []string
	for len(types) < 2 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
			assert.Equal(t, "fire-1", ev.Data.(TaskEvent).ID)
		case <-time.After(time.Second):
			t.Fatal("missing events")
		}
	}
	assert.Equal(t, []string{"task.started", "task.failed"}, types)
}
