package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cronwire/internal/eventbus"
	rtsup "cronwire/internal/runtime/supervisor"
	logx "cronwire/pkg/logx"
)

// Service is a bounded worker pool.
//
// Callers first Reserve a permit without blocking, then Submit a task on the
// reservation. Holding a permit guarantees a worker will pick the task up, so
// Submit never blocks either.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q       chan *inflight
	permits chan struct{}

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopping bool

	running map[*inflight]struct{}
	pending sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem

	submitted uint64
	succeeded uint64
	failed    uint64
	cancelled uint64
	exhausted uint64
}

type inflight struct {
	task    Task
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	started atomic.Int64

	once sync.Once
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		running: map[*inflight]struct{}{},
	}
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Supervisor returns the engine's supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start launches the workers. It is idempotent while running.
//
// Task contexts do not inherit ctx's cancellation; only Stop cancels them.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	workers := cfg.Workers

	s.q = make(chan *inflight, workers)
	s.permits = make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		s.permits <- struct{}{}
	}
	s.stopCh = make(chan struct{})
	s.stopping = false
	s.sup = rtsup.NewSupervisor(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	stopCh := s.stopCh
	queue := s.q
	permits := s.permits
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		// Restart workers that exit unexpectedly.
		sup.GoRestart(name, func(c context.Context) error {
			s.worker(c, stopCh, queue, permits)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		},
			rtsup.WithPublishFirstError(true),
		)
	}

	s.log.Info("task engine started", logx.Int("workers", workers), logx.Duration("default_timeout", cfg.DefaultTimeout))
}

// Reservation holds one worker permit until Submit or Release.
type Reservation struct {
	s       *Service
	permits chan struct{}
	used    atomic.Bool
}

// Reserve takes a free permit without blocking.
func (s *Service) Reserve() (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return nil, ErrStopped
	}
	if s.stopping {
		return nil, ErrStopping
	}
	select {
	case <-s.permits:
		return &Reservation{s: s, permits: s.permits}, nil
	default:
		atomic.AddUint64(&s.exhausted, 1)
		return nil, ErrPoolExhausted
	}
}

// Release returns an unused permit. It is a no-op after Submit.
func (r *Reservation) Release() {
	if r == nil || !r.used.CompareAndSwap(false, true) {
		return
	}
	r.permits <- struct{}{}
}

// Submit hands t to a worker. On error the permit is released and t.Done is
// not called.
func (r *Reservation) Submit(t Task) error {
	if r == nil || !r.used.CompareAndSwap(false, true) {
		return ErrReservation
	}
	s := r.s
	if t.Run == nil {
		r.permits <- struct{}{}
		return fmt.Errorf("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		r.permits <- struct{}{}
		return fmt.Errorf("task Name is required")
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}

	s.mu.Lock()
	if s.stopCh == nil || s.q == nil || s.permits != r.permits {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.stopping {
		s.mu.Unlock()
		r.permits <- struct{}{}
		return ErrStopping
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithCancel(s.sup.Context())
	it := &inflight{task: t, ctx: ctx, cancel: cancel, timeout: timeout}
	s.running[it] = struct{}{}
	s.pending.Add(1)
	q := s.q
	s.mu.Unlock()

	atomic.AddUint64(&s.submitted, 1)
	// Cannot block: one buffered slot per permit.
	q <- it
	return nil
}

// Stop stops intake and shuts the workers down.
//
// With wait, Stop blocks until every accepted task finished or ctx expires.
// Tasks still running at that point (or immediately, without wait) have their
// contexts cancelled and are reported to Done with ErrCancelled; whatever they
// return later is discarded.
func (s *Service) Stop(ctx context.Context, wait bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	stopCh := s.stopCh
	sup := s.sup
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(drained)
	}()

	forced := 0
	if wait {
		select {
		case <-drained:
		case <-ctx.Done():
			forced = s.abandonRunning()
		}
	} else {
		forced = s.abandonRunning()
	}

	close(stopCh)
	sup.Cancel()

	if forced == 0 {
		if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn("task engine worker error", logx.Err(err))
		}
	}

	s.mu.Lock()
	s.q = nil
	s.permits = nil
	s.stopCh = nil
	s.sup = nil
	s.stopping = false
	s.mu.Unlock()

	if forced > 0 {
		s.log.Warn("task engine stopped; tasks cancelled", logx.Int("cancelled", forced))
		return
	}
	s.log.Info("task engine stopped")
}

// abandonRunning cancels every in-flight task and reports ErrCancelled for it.
func (s *Service) abandonRunning() int {
	s.mu.Lock()
	list := make([]*inflight, 0, len(s.running))
	for it := range s.running {
		list = append(list, it)
	}
	s.mu.Unlock()

	n := 0
	for _, it := range list {
		it.cancel()
		if s.finish(it, ErrCancelled) {
			n++
		}
	}
	return n
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	snap := Snapshot{
		Running:        s.stopCh != nil,
		Stopping:       s.stopping,
		Workers:        cfg.Workers,
		InFlight:       len(s.running),
		DefaultTimeout: cfg.DefaultTimeout,
	}
	if s.permits != nil {
		snap.Free = len(s.permits)
	}
	s.mu.Unlock()

	snap.Submitted = atomic.LoadUint64(&s.submitted)
	snap.Succeeded = atomic.LoadUint64(&s.succeeded)
	snap.Failed = atomic.LoadUint64(&s.failed)
	snap.Cancelled = atomic.LoadUint64(&s.cancelled)
	snap.Exhausted = atomic.LoadUint64(&s.exhausted)

	s.hmu.Lock()
	snap.History = make([]HistoryItem, len(s.history))
	copy(snap.History, s.history)
	s.hmu.Unlock()
	return snap
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	historySize := s.cfg.HistorySize
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}
