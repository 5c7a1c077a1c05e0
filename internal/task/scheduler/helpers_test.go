package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"cronwire/internal/task/engine"
	"cronwire/internal/task/job"
	"cronwire/internal/task/jobfactory"
	"cronwire/internal/task/listener"
	logx "cronwire/pkg/logx"
)

type ctorFunc func(typ string) (any, error)

func (f ctorFunc) Construct(typ string) (any, error) { return f(typ) }

type record struct {
	Kind      string
	Listener  string
	Job       string
	Trigger   string
	Scheduled time.Time
	Fired     time.Time
	Err       error
	Reason    job.MisfireReason
}

// recorder implements every listener interface and keeps an ordered log.
type recorder struct {
	name string
	mu   sync.Mutex
	recs []record
	ch   chan record
}

func newRecorder(name string) *recorder {
	return &recorder{name: name, ch: make(chan record, 256)}
}

func (r *recorder) add(rec record) error {
	rec.Listener = r.name
	r.mu.Lock()
	r.recs = append(r.recs, rec)
	r.mu.Unlock()
	r.ch <- rec
	return nil
}

func (r *recorder) JobToBeExecuted(_ context.Context, ec *job.ExecutionContext) error {
	return r.add(record{Kind: "to_be_executed", Job: ec.JobKey().String(), Trigger: ec.TriggerKey.String(), Scheduled: ec.ScheduledFireTime, Fired: ec.FireTime})
}

func (r *recorder) JobWasExecuted(_ context.Context, ec *job.ExecutionContext, err error) error {
	return r.add(record{Kind: "was_executed", Job: ec.JobKey().String(), Trigger: ec.TriggerKey.String(), Scheduled: ec.ScheduledFireTime, Fired: ec.FireTime, Err: err})
}

func (r *recorder) TriggerFired(_ context.Context, ec *job.ExecutionContext) error {
	return r.add(record{Kind: "fired", Job: ec.JobKey().String(), Trigger: ec.TriggerKey.String(), Scheduled: ec.ScheduledFireTime, Fired: ec.FireTime})
}

func (r *recorder) TriggerMisfired(_ context.Context, w *job.MisfireWarning) error {
	return r.add(record{Kind: "misfired", Job: w.Job.String(), Trigger: w.Trigger.String(), Scheduled: w.ScheduledFireTime, Fired: w.DetectedAt, Reason: w.Reason})
}

func (r *recorder) SchedulerEvent(_ context.Context, ev listener.SchedulerEvent) error {
	return r.add(record{Kind: string(ev.Kind), Job: ev.Job.String(), Trigger: ev.Trigger.String(), Err: ev.Err})
}

func (r *recorder) all() []record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record(nil), r.recs...)
}

func (r *recorder) kinds(kind string) []record {
	var out []record
	for _, rec := range r.all() {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// waitFor blocks until a record of kind arrives (records of other kinds are skipped).
func (r *recorder) waitFor(t *testing.T, kind string) record {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case rec := <-r.ch:
			if rec.Kind == kind {
				return rec
			}
		case <-deadline:
			t.Fatalf("no %s notification", kind)
			return record{}
		}
	}
}

type harness struct {
	clock clockwork.FakeClock
	rec   *recorder
	sched *Service
	eng   *engine.Service

	mu   sync.Mutex
	jobs map[string]job.Job
}

var noon = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type harnessOption func(*harnessSetup)

type harnessSetup struct {
	listeners map[string]any
	pool      func(*engine.Service) Pool
}

// withListener makes a listener instance constructible under typ.
func withListener(typ string, l any) harnessOption {
	return func(s *harnessSetup) { s.listeners[typ] = l }
}

// withPool wraps the engine handed to the scheduler.
func withPool(wrap func(*engine.Service) Pool) harnessOption {
	return func(s *harnessSetup) { s.pool = wrap }
}

func newHarness(t *testing.T, workers int, cfg Config, opts ...harnessOption) *harness {
	t.Helper()
	setup := harnessSetup{listeners: map[string]any{}}
	for _, o := range opts {
		o(&setup)
	}
	h := &harness{
		clock: clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		rec:   newRecorder("global"),
		jobs:  map[string]job.Job{},
	}
	ctor := ctorFunc(func(typ string) (any, error) {
		if typ == "recorder" {
			return h.rec, nil
		}
		if l, ok := setup.listeners[typ]; ok {
			return l, nil
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if j, ok := h.jobs[typ]; ok {
			return j, nil
		}
		return nil, errors.New("not bound: " + typ)
	})
	bus := listener.NewBus(ctor)
	bus.RegisterGlobal(listener.CapabilityJob, "recorder")
	bus.RegisterGlobal(listener.CapabilityTrigger, "recorder")
	bus.RegisterGlobal(listener.CapabilityScheduler, "recorder")

	if cfg.Name == "" {
		cfg.Name = "test"
	}
	cfg.Location = time.UTC
	h.eng = engine.New(engine.Config{Workers: workers}, logx.Nop(), nil)
	var pool Pool = h.eng
	if setup.pool != nil {
		pool = setup.pool(h.eng)
	}
	h.sched = New(cfg, pool, jobfactory.New(ctor), bus, logx.Nop(), nil, WithClock(h.clock))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.sched.Shutdown(ctx, false)
	})
	return h
}

func (h *harness) bind(typ string, j job.Job) {
	h.mu.Lock()
	h.jobs[typ] = j
	h.mu.Unlock()
}

func (h *harness) register(t *testing.T, name, typ, expr string) {
	t.Helper()
	require.NoError(t, h.sched.RegisterJob(
		job.Definition{Key: job.NewJobKey(name, "daily"), Type: typ},
		job.Trigger{Key: job.NewTriggerKey(name, "daily"), Expression: expr},
	))
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.sched.Start(context.Background()))
}

// advance waits for the loop to sleep, then moves the fake clock.
func (h *harness) advance(d time.Duration) {
	h.clock.BlockUntil(1)
	h.clock.Advance(d)
}

// panickyPool panics on the first reservation and then delegates.
type panickyPool struct {
	*engine.Service
	once sync.Once
}

func (p *panickyPool) Reserve() (*engine.Reservation, error) {
	p.once.Do(func() { panic("reserve exploded") })
	return p.Service.Reserve()
}

func noop() job.Job {
	return job.JobFunc(func(context.Context, *job.ExecutionContext) error { return nil })
}
