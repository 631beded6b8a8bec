// Package gesture drives the press-and-hold progress ramps.
//
// Each hold kind owns at most one ramp. A ramp advances the kind's progress in
// the session store by one step per tick and re-reads the holding flag on
// every tick; releasing the hold is the only way to cancel it. Reaching
// contracts.HoldSteps completes the hold, resets progress and fires the armed
// completion callback exactly once.
package gesture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
	"github.com/jathongeovanni-coder/vext-vault/pkg/session"
)

// DefaultInterval is the tick period of a ramp.
const DefaultInterval = 15 * time.Millisecond

// Completion describes a hold that reached full progress.
type Completion struct {
	Kind contracts.HoldKind
	// Nominal is HoldSteps * interval, the configured duration of a hold.
	Nominal time.Duration
	// Elapsed is the wall-clock time between Start and completion.
	Elapsed time.Duration
}

// Hold configures one hold kind.
type Hold struct {
	// Guard is evaluated against the store before a ramp starts. Nil allows.
	Guard func(session.Snapshot) bool
	// OnComplete runs on the ramp goroutine after the hold completes.
	OnComplete func(ctx context.Context, c Completion)
}

// ProgressFunc observes progress changes, including the reset to 0.
type ProgressFunc func(kind contracts.HoldKind, progress int)

type ramp struct {
	stop    chan struct{}
	started time.Time
}

// Engine runs hold ramps against a session store.
type Engine struct {
	mu        sync.Mutex
	store     *session.Store
	interval  time.Duration
	newTicker TickerFunc
	now       func() time.Time
	logger    *slog.Logger

	holds     map[contracts.HoldKind]Hold
	ramps     map[contracts.HoldKind]*ramp
	listeners []ProgressFunc
	wg        sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithTicker replaces the ticker constructor.
func WithTicker(f TickerFunc) Option {
	return func(e *Engine) { e.newTicker = f }
}

// WithClock replaces the clock used to measure elapsed hold time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine ticking every interval. A non-positive interval selects DefaultInterval.
func New(store *session.Store, interval time.Duration, opts ...Option) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	e := &Engine{
		store:     store,
		interval:  interval,
		newTicker: NewRealTicker,
		now:       time.Now,
		logger:    slog.Default().With("component", "gesture"),
		holds:     make(map[contracts.HoldKind]Hold),
		ramps:     make(map[contracts.HoldKind]*ramp),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Nominal returns the configured duration of a full hold.
func (e *Engine) Nominal() time.Duration {
	return time.Duration(contracts.HoldSteps) * e.interval
}

// Arm installs the configuration for kind, replacing any previous one.
func (e *Engine) Arm(kind contracts.HoldKind, h Hold) {
	e.mu.Lock()
	e.holds[kind] = h
	e.mu.Unlock()
}

// OnProgress registers a progress observer. Observers run outside the engine
// lock: on the ramp goroutine for ticks, on the caller of Release otherwise.
func (e *Engine) OnProgress(fn ProgressFunc) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// Start begins a ramp for kind. It returns false without side effects when
// kind is not armed, is already held, or its guard refuses.
func (e *Engine) Start(ctx context.Context, kind contracts.HoldKind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.holds[kind]
	if !ok {
		return false
	}
	if _, running := e.ramps[kind]; running {
		return false
	}
	if h.Guard != nil && !h.Guard(e.store.Snapshot()) {
		return false
	}
	if !e.store.BeginHold(kind) {
		return false
	}

	r := &ramp{stop: make(chan struct{}), started: e.now()}
	e.ramps[kind] = r
	t := e.newTicker(e.interval)

	e.wg.Add(1)
	go e.run(ctx, kind, r, t, h)
	return true
}

// Release cancels the ramp for kind and resets its progress. It reports
// whether a hold was in progress.
func (e *Engine) Release(kind contracts.HoldKind) bool {
	ok, notify := e.Cancel(kind)
	notify()
	return ok
}

// Cancel is Release without observer dispatch. The returned notify delivers
// the reset to 0 and must be called once the caller has dropped any lock an
// observer might take. It is never nil.
func (e *Engine) Cancel(kind contracts.HoldKind) (bool, func()) {
	e.mu.Lock()
	r, ok := e.ramps[kind]
	if ok {
		delete(e.ramps, kind)
		close(r.stop)
		e.store.EndHold(kind)
	}
	e.mu.Unlock()

	if !ok {
		return false, func() {}
	}
	return true, func() { e.notify(kind, 0) }
}

// Close releases every running ramp.
func (e *Engine) Close() {
	for _, k := range contracts.HoldKinds() {
		e.Release(k)
	}
}

// Wait blocks until every ramp goroutine, including completion callbacks, has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context, kind contracts.HoldKind, r *ramp, t Ticker, h Hold) {
	defer e.wg.Done()
	defer t.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			if e.abandon(kind, r) {
				e.notify(kind, 0)
			}
			return
		case <-t.C():
			progress, done, live := e.step(kind, r)
			if !live {
				return
			}
			e.notify(kind, progress)
			if !done {
				continue
			}
			c := Completion{
				Kind:    kind,
				Nominal: e.Nominal(),
				Elapsed: e.now().Sub(r.started),
			}
			e.notify(kind, 0)
			e.logger.DebugContext(ctx, "hold complete",
				"kind", kind, "nominal_ms", c.Nominal.Milliseconds(), "elapsed_ms", c.Elapsed.Milliseconds())
			if h.OnComplete != nil {
				h.OnComplete(ctx, c)
			}
			return
		}
	}
}

// step advances kind by one tick if r is still the live ramp and the kind is
// still held.
func (e *Engine) step(kind contracts.HoldKind, r *ramp) (progress int, done, live bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ramps[kind] != r || !e.store.Holding(kind) {
		return 0, false, false
	}
	progress = e.store.AdvanceHold(kind)
	if progress >= contracts.HoldSteps {
		delete(e.ramps, kind)
		e.store.EndHold(kind)
		return progress, true, true
	}
	return progress, false, true
}

func (e *Engine) abandon(kind contracts.HoldKind, r *ramp) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ramps[kind] != r {
		return false
	}
	delete(e.ramps, kind)
	e.store.EndHold(kind)
	return true
}

func (e *Engine) notify(kind contracts.HoldKind, progress int) {
	e.mu.Lock()
	listeners := append([]ProgressFunc(nil), e.listeners...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(kind, progress)
	}
}
