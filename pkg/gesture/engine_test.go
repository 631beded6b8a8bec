package gesture

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
	"github.com/jathongeovanni-coder/vext-vault/pkg/session"
)

type fakeTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

// fakeClock hands every ticker the engine creates to the test.
type fakeClock struct {
	created chan *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{created: make(chan *fakeTicker, 16)}
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	t := &fakeTicker{c: make(chan time.Time)}
	c.created <- t
	return t
}

type progressEvent struct {
	kind     contracts.HoldKind
	progress int
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *session.Store
	engine   *Engine
	clock    *fakeClock
	progress chan progressEvent
	complete chan Completion
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		t:        t,
		ctx:      ctx,
		store:    session.New(nil),
		clock:    newFakeClock(),
		progress: make(chan progressEvent, 4*contracts.HoldSteps),
		complete: make(chan Completion, 4),
	}
	h.engine = New(h.store, 15*time.Millisecond, WithTicker(h.clock.NewTicker))
	h.engine.OnProgress(func(k contracts.HoldKind, p int) { h.progress <- progressEvent{k, p} })
	for _, k := range contracts.HoldKinds() {
		h.engine.Arm(k, Hold{OnComplete: func(_ context.Context, c Completion) { h.complete <- c }})
	}
	t.Cleanup(func() {
		cancel()
		h.engine.Wait()
	})
	return h
}

func (h *harness) start(kind contracts.HoldKind) *fakeTicker {
	h.t.Helper()
	require.True(h.t, h.engine.Start(h.ctx, kind))
	select {
	case ft := <-h.clock.created:
		return ft
	case <-time.After(time.Second):
		h.t.Fatal("ramp did not create a ticker")
		return nil
	}
}

// tick delivers n ticks and waits for each one to be applied.
func (h *harness) tick(ft *fakeTicker, n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		select {
		case ft.c <- time.Now():
		case <-time.After(time.Second):
			h.t.Fatalf("tick %d not consumed", i+1)
		}
		h.nextProgress()
	}
}

func (h *harness) nextProgress() progressEvent {
	h.t.Helper()
	select {
	case ev := <-h.progress:
		return ev
	case <-time.After(time.Second):
		h.t.Fatal("no progress notification")
		return progressEvent{}
	}
}

func TestEngine_CompletesAfterHoldSteps(t *testing.T) {
	h := newHarness(t)
	ft := h.start(contracts.HoldReveal)

	h.tick(ft, contracts.HoldSteps-1)
	assert.Equal(t, contracts.HoldSteps-1, h.store.Progress(contracts.HoldReveal))
	assert.Empty(t, h.complete)

	h.tick(ft, 1)
	assert.Equal(t, progressEvent{contracts.HoldReveal, 0}, h.nextProgress(), "reset after completion")

	select {
	case c := <-h.complete:
		assert.Equal(t, contracts.HoldReveal, c.Kind)
		assert.Equal(t, 1500*time.Millisecond, c.Nominal)
	case <-time.After(time.Second):
		t.Fatal("completion not fired")
	}
	assert.Equal(t, 0, h.store.Progress(contracts.HoldReveal))
	assert.False(t, h.store.Holding(contracts.HoldReveal))

	h.engine.Wait()
	assert.True(t, ft.stopped.Load())
	assert.Empty(t, h.complete, "completion fires exactly once")
}

func TestEngine_ReleaseAt42ResetsWithoutCompletion(t *testing.T) {
	h := newHarness(t)
	ft := h.start(contracts.HoldReveal)

	h.tick(ft, 42)
	assert.Equal(t, 42, h.store.Progress(contracts.HoldReveal))

	require.True(t, h.engine.Release(contracts.HoldReveal))
	assert.Equal(t, progressEvent{contracts.HoldReveal, 0}, h.nextProgress())
	assert.Equal(t, 0, h.store.Progress(contracts.HoldReveal))
	assert.False(t, h.store.Holding(contracts.HoldReveal))

	h.engine.Wait()
	assert.Empty(t, h.complete)
	assert.False(t, h.engine.Release(contracts.HoldReveal), "second release is a no-op")
}

func TestEngine_StartIsIdempotentWhileHolding(t *testing.T) {
	h := newHarness(t)
	ft := h.start(contracts.HoldReveal)
	h.tick(ft, 10)

	assert.False(t, h.engine.Start(h.ctx, contracts.HoldReveal))
	assert.Empty(t, h.clock.created, "no second ramp")
	assert.Equal(t, 10, h.store.Progress(contracts.HoldReveal))
}

func TestEngine_KindsAreIndependent(t *testing.T) {
	h := newHarness(t)
	reveal := h.start(contracts.HoldReveal)
	sign := h.start(contracts.HoldSign)

	h.tick(reveal, 5)
	h.tick(sign, 7)
	assert.Equal(t, 5, h.store.Progress(contracts.HoldReveal))
	assert.Equal(t, 7, h.store.Progress(contracts.HoldSign))

	h.engine.Release(contracts.HoldSign)
	h.nextProgress()
	assert.Equal(t, 5, h.store.Progress(contracts.HoldReveal))
	assert.Equal(t, 0, h.store.Progress(contracts.HoldSign))
}

func TestEngine_GuardRefusal(t *testing.T) {
	h := newHarness(t)
	h.engine.Arm(contracts.HoldSign, Hold{
		Guard: func(s session.Snapshot) bool { return s.IdentityLinked && s.Revealed },
	})

	assert.False(t, h.engine.Start(h.ctx, contracts.HoldSign))
	assert.False(t, h.store.Holding(contracts.HoldSign))
	assert.Equal(t, 0, h.store.Progress(contracts.HoldSign))
	assert.Empty(t, h.clock.created)
}

func TestEngine_UnarmedKind(t *testing.T) {
	store := session.New(nil)
	e := New(store, 0)
	assert.False(t, e.Start(context.Background(), contracts.HoldReveal))
	assert.Equal(t, DefaultInterval*contracts.HoldSteps, e.Nominal())
}

func TestEngine_ContextCancelAbandonsRamp(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(h.ctx)

	require.True(t, h.engine.Start(ctx, contracts.HoldReveal))
	ft := <-h.clock.created
	h.tick(ft, 3)

	cancel()
	assert.Equal(t, progressEvent{contracts.HoldReveal, 0}, h.nextProgress())
	h.engine.Wait()
	assert.False(t, h.store.Holding(contracts.HoldReveal))
	assert.Equal(t, 0, h.store.Progress(contracts.HoldReveal))
}

func TestEngine_RestartAfterRelease(t *testing.T) {
	h := newHarness(t)
	first := h.start(contracts.HoldReveal)
	h.tick(first, 20)
	h.engine.Release(contracts.HoldReveal)
	h.nextProgress()

	second := h.start(contracts.HoldReveal)
	h.tick(second, 1)
	assert.Equal(t, 1, h.store.Progress(contracts.HoldReveal), "progress restarts from zero")
}

func TestEngine_CancelDefersNotification(t *testing.T) {
	h := newHarness(t)
	ft := h.start(contracts.HoldSign)
	h.tick(ft, 42)

	ok, notify := h.engine.Cancel(contracts.HoldSign)
	require.True(t, ok)
	assert.Equal(t, 0, h.store.Progress(contracts.HoldSign), "state resets immediately")
	assert.False(t, h.store.Holding(contracts.HoldSign))
	assert.Empty(t, h.progress, "observers wait for notify")

	notify()
	assert.Equal(t, progressEvent{contracts.HoldSign, 0}, h.nextProgress())

	ok, notify = h.engine.Cancel(contracts.HoldSign)
	assert.False(t, ok)
	notify()
	assert.Empty(t, h.progress)
	assert.Empty(t, h.complete)
}
