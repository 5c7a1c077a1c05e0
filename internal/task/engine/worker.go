package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"cronwire/internal/eventbus"
	logx "cronwire/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan *inflight, permits chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case it := <-queue:
			s.execOne(it)
			// Permits are returned only once the worker is free again.
			permits <- struct{}{}
		}
	}
}

func (s *Service) execOne(it *inflight) {
	defer it.cancel()
	if it.ctx.Err() != nil {
		s.finish(it, ErrCancelled)
		return
	}

	start := time.Now()
	it.started.Store(start.UnixNano())
	s.log.Debug("task.started", logx.String("task", it.task.Name), logx.String("id", it.task.ID))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "task.started", Time: start, Data: TaskEvent{ID: it.task.ID, Name: it.task.Name, Started: start}})
	}

	runCtx := it.ctx
	var cancel context.CancelFunc
	if it.timeout > 0 {
		runCtx, cancel = context.WithTimeout(it.ctx, it.timeout)
	}
	var err error
	// A panicking task must not kill the worker.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", it.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = it.task.Run(runCtx)
	}()
	if cancel != nil {
		cancel()
	}

	if !s.finish(it, err) {
		s.log.Debug("late task result discarded", logx.String("task", it.task.Name), logx.String("id", it.task.ID), logx.Err(err))
	}
}

// finish reports the outcome of it exactly once. It returns false when the
// task was already finished, e.g. by a forced stop.
func (s *Service) finish(it *inflight, err error) bool {
	won := false
	it.once.Do(func() {
		won = true
		s.complete(it, err)
	})
	return won
}

func (s *Service) complete(it *inflight, err error) {
	defer s.pending.Done()

	s.mu.Lock()
	delete(s.running, it)
	s.mu.Unlock()

	now := time.Now()
	start := now
	if ns := it.started.Load(); ns != 0 {
		start = time.Unix(0, ns)
	}
	dur := now.Sub(start)
	item := HistoryItem{ID: it.task.ID, Name: it.task.Name, Started: start, Duration: dur}
	ev := TaskEvent{ID: it.task.ID, Name: it.task.Name, Started: start, Duration: dur}

	typ := "task.finished"
	switch {
	case err == nil:
		atomic.AddUint64(&s.succeeded, 1)
		if dur >= 750*time.Millisecond {
			s.log.Info("task.completed", logx.String("task", it.task.Name), logx.Duration("dur", dur))
		} else {
			s.log.Debug("task.completed", logx.String("task", it.task.Name), logx.Duration("dur", dur))
		}
	case errors.Is(err, ErrCancelled):
		atomic.AddUint64(&s.cancelled, 1)
		typ = "task.cancelled"
		item.Error, ev.Error = err.Error(), err.Error()
		s.log.Warn("task.cancelled", logx.String("task", it.task.Name), logx.String("id", it.task.ID), logx.Duration("dur", dur))
	default:
		atomic.AddUint64(&s.failed, 1)
		typ = "task.failed"
		item.Error, ev.Error = err.Error(), err.Error()
		s.log.Warn("task.failed", logx.String("task", it.task.Name), logx.Err(err), logx.Duration("dur", dur))
	}
	s.record(item)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
	}

	if it.task.Done == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task done callback panicked", logx.String("task", it.task.Name), logx.Any("panic", r))
		}
	}()
	it.task.Done(err)
}
