// Package vector sequences the three authorization vectors (possession,
// identity, intent) and decides which action is legal at any moment.
//
// Every action re-checks its guard against the session store. Actions
// attempted out of sequence are silent no-ops; Check reports why. Async
// results (connect, verify, sign) are stamped with the session epoch when
// they start and dropped if the epoch moved on before they resolved.
package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jathongeovanni-coder/vext-vault/pkg/attest"
	"github.com/jathongeovanni-coder/vext-vault/pkg/bridge"
	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
	"github.com/jathongeovanni-coder/vext-vault/pkg/factor"
	"github.com/jathongeovanni-coder/vext-vault/pkg/gesture"
	"github.com/jathongeovanni-coder/vext-vault/pkg/observability"
	"github.com/jathongeovanni-coder/vext-vault/pkg/session"
)

// Deps wires a Machine to its collaborators.
type Deps struct {
	Store     *session.Store
	Bridge    *bridge.Adapter
	Factor    factor.Verifier
	Assembler *attest.Assembler

	// Telemetry may be nil.
	Telemetry *observability.Provider
	// TickInterval defaults to gesture.DefaultInterval.
	TickInterval time.Duration
	// Ticker replaces the real ticker, for deterministic tests.
	Ticker gesture.TickerFunc
	Logger *slog.Logger
}

// Machine is the vector state machine for one session.
type Machine struct {
	mu sync.Mutex

	store     *session.Store
	bridge    *bridge.Adapter
	factor    factor.Verifier
	assembler *attest.Assembler
	engine    *gesture.Engine
	telemetry *observability.Provider
	logger    *slog.Logger

	// inflight maps an action to the epoch its async work started in.
	inflight map[Action]uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a machine and arms both hold kinds. ctx bounds all background
// work; Close cancels it.
func New(ctx context.Context, d Deps) (*Machine, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("vector: store is required")
	case d.Bridge == nil:
		return nil, errors.New("vector: bridge is required")
	case d.Factor == nil:
		return nil, errors.New("vector: second factor is required")
	case d.Assembler == nil:
		return nil, errors.New("vector: assembler is required")
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default().With("component", "vector")
	}
	opts := []gesture.Option{gesture.WithLogger(logger.With("subsystem", "gesture"))}
	if d.Ticker != nil {
		opts = append(opts, gesture.WithTicker(d.Ticker))
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &Machine{
		store:     d.Store,
		bridge:    d.Bridge,
		factor:    d.Factor,
		assembler: d.Assembler,
		engine:    gesture.New(d.Store, d.TickInterval, opts...),
		telemetry: d.Telemetry,
		logger:    logger,
		inflight:  make(map[Action]uint64),
		ctx:       ctx,
		cancel:    cancel,
	}

	m.engine.Arm(contracts.HoldReveal, gesture.Hold{
		Guard: func(s session.Snapshot) bool {
			return s.Verified && !s.Revealed
		},
		OnComplete: m.revealComplete,
	})
	m.engine.Arm(contracts.HoldSign, gesture.Hold{
		Guard: func(s session.Snapshot) bool {
			return s.IdentityLinked && s.Revealed
		},
		OnComplete: m.signComplete,
	})
	return m, nil
}

// Store returns the session store the machine drives.
func (m *Machine) Store() *session.Store { return m.store }

// Snapshot returns the current session state.
func (m *Machine) Snapshot() session.Snapshot { return m.store.Snapshot() }

// OnProgress registers a hold progress observer.
func (m *Machine) OnProgress(fn gesture.ProgressFunc) { m.engine.OnProgress(fn) }

// NominalHold is the duration recorded in every attestation.
func (m *Machine) NominalHold() time.Duration { return m.engine.Nominal() }

// Phase returns the current vector phase.
func (m *Machine) Phase() contracts.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.store.Snapshot()
	return PhaseOf(s, m.busyLocked(ActionStartSign, s.Epoch))
}

// Check reports whether action is legal now. It returns an error wrapping
// ErrGuardViolation when it is not.
func (m *Machine) Check(action Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.checkLocked(action)
	return err
}

func (m *Machine) checkLocked(action Action) (session.Snapshot, error) {
	s := m.store.Snapshot()
	busy := func(a Action) bool { return m.busyLocked(a, s.Epoch) }
	return s, guard(action, s, PhaseOf(s, busy(ActionStartSign)), busy)
}

func (m *Machine) busyLocked(a Action, epoch uint64) bool {
	e, ok := m.inflight[a]
	return ok && e == epoch
}

func (m *Machine) finishLocked(a Action, epoch uint64) {
	if e, ok := m.inflight[a]; ok && e == epoch {
		delete(m.inflight, a)
	}
}

// refuse logs a swallowed guard violation.
func (m *Machine) refuse(ctx context.Context, err error) {
	m.logger.DebugContext(ctx, "action ignored", "reason", err)
}

// Connect links the external signing identity. Guard refusals and stale
// results return nil; provider failures are recorded in lastError and returned.
func (m *Machine) Connect(ctx context.Context) error {
	m.mu.Lock()
	s, err := m.checkLocked(ActionConnect)
	if err != nil {
		m.mu.Unlock()
		m.refuse(ctx, err)
		return nil
	}
	epoch := s.Epoch
	m.inflight[ActionConnect] = epoch
	m.mu.Unlock()

	ctx, done := m.telemetry.TrackOperation(ctx, "vector.connect")
	handle, err := m.bridge.Connect(ctx)
	done(err)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishLocked(ActionConnect, epoch)
	if m.store.Epoch() != epoch {
		m.logger.DebugContext(ctx, "stale connect result dropped", "epoch", epoch)
		return nil
	}
	if err != nil {
		m.store.SetError(err)
		m.logger.WarnContext(ctx, "connect failed", "error", err)
		return err
	}
	if m.store.SetLinked(handle) {
		m.store.ClearError()
		m.logger.InfoContext(ctx, "identity linked", "handle", bridge.ShortHandle(handle))
	}
	return nil
}

// ConnectAsync runs Connect in the background under the machine context.
func (m *Machine) ConnectAsync() {
	m.goAsync(func(ctx context.Context) { _ = m.Connect(ctx) })
}

// Verify runs the second factor against response. Guard refusals and stale
// results return nil.
func (m *Machine) Verify(ctx context.Context, response string) error {
	m.mu.Lock()
	s, err := m.checkLocked(ActionVerify)
	if err != nil {
		m.mu.Unlock()
		m.refuse(ctx, err)
		return nil
	}
	epoch := s.Epoch
	m.inflight[ActionVerify] = epoch
	m.mu.Unlock()

	ctx, done := m.telemetry.TrackOperation(ctx, "vector.verify", observability.FactorOperation(m.factor.Name())...)
	proof, err := m.factor.Verify(ctx, response)
	done(err)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishLocked(ActionVerify, epoch)
	if m.store.Epoch() != epoch {
		m.logger.DebugContext(ctx, "stale verification result dropped", "epoch", epoch)
		return nil
	}
	if err != nil {
		m.store.SetError(err)
		m.logger.WarnContext(ctx, "second factor failed", "factor", m.factor.Name(), "error", err)
		return err
	}
	if m.store.SetVerified(proof) {
		m.store.ClearError()
		m.logger.InfoContext(ctx, "second factor verified", "factor", m.factor.Name())
	}
	return nil
}

// VerifyAsync runs Verify in the background under the machine context.
func (m *Machine) VerifyAsync(response string) {
	m.goAsync(func(ctx context.Context) { _ = m.Verify(ctx, response) })
}

func (m *Machine) goAsync(fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

// StartHold begins a hold of kind. It reports whether a ramp started.
// Starting a sign hold clears the attested flag of the previous record.
func (m *Machine) StartHold(kind contracts.HoldKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.checkLocked(holdAction(kind)); err != nil {
		m.refuse(m.ctx, err)
		return false
	}
	if !m.engine.Start(m.ctx, kind) {
		return false
	}
	if kind == contracts.HoldSign {
		m.inflight[ActionStartSign] = m.store.Epoch()
		m.store.SetAttested(false)
	}
	return true
}

// ReleaseHold cancels an in-progress hold of kind. Releasing a kind that is
// not held is a no-op.
func (m *Machine) ReleaseHold(kind contracts.HoldKind) bool {
	m.mu.Lock()
	ok, notify := m.engine.Cancel(kind)
	if ok && kind == contracts.HoldSign {
		delete(m.inflight, ActionStartSign)
	}
	m.mu.Unlock()

	notify()
	return ok
}

// SelectAsset changes the asset the next attestation is for.
func (m *Machine) SelectAsset(a contracts.Asset) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.checkLocked(ActionSelectAsset); err != nil {
		m.refuse(m.ctx, err)
		return false
	}
	return m.store.SetAsset(a)
}

// Reset ends the current checkout: running holds are released, the attested
// flag is cleared and pending async results are invalidated. Vector
// completion and the audit log are kept.
func (m *Machine) Reset() {
	m.mu.Lock()
	notify := m.cancelHoldsLocked()
	m.store.SetAttested(false)
	epoch := m.store.BumpEpoch()
	m.mu.Unlock()

	notify()
	m.logger.InfoContext(m.ctx, "session reset", "epoch", epoch)
}

// Disconnect drops the identity link and every vector gated on it.
func (m *Machine) Disconnect() bool {
	m.mu.Lock()
	if _, err := m.checkLocked(ActionDisconnect); err != nil {
		m.mu.Unlock()
		m.refuse(m.ctx, err)
		return false
	}
	notify := m.cancelHoldsLocked()
	m.store.ClearLink()
	m.store.BumpEpoch()
	m.mu.Unlock()

	notify()
	if err := m.bridge.Disconnect(m.ctx); err != nil {
		m.logger.WarnContext(m.ctx, "provider kept the connection", "error", err)
	}
	m.logger.InfoContext(m.ctx, "identity disconnected")
	return true
}

// cancelHoldsLocked stops every running ramp. The returned func delivers the
// progress resets and must run after m.mu is released.
func (m *Machine) cancelHoldsLocked() func() {
	var pending []func()
	for _, k := range contracts.HoldKinds() {
		if ok, notify := m.engine.Cancel(k); ok {
			pending = append(pending, notify)
		}
	}
	return func() {
		for _, fn := range pending {
			fn()
		}
	}
}

// Close releases running holds, cancels background work and waits for it.
func (m *Machine) Close() {
	m.cancel()
	m.engine.Close()
	m.wg.Wait()
	m.engine.Wait()
}

// revealComplete runs on the reveal ramp goroutine.
func (m *Machine) revealComplete(ctx context.Context, c gesture.Completion) {
	ctx, done := m.telemetry.TrackOperation(ctx, "vector.hold.complete", observability.HoldOperation(c.Kind)...)
	defer done(nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store.SetRevealed() {
		m.store.ClearError()
		m.logger.InfoContext(ctx, "vault revealed", "elapsed_ms", c.Elapsed.Milliseconds())
	}
}

// signComplete runs on the sign ramp goroutine. State is captured under the
// lock, assembly runs without it, and the result is committed only if the
// session is still in the epoch the hold started in. The sign action stays
// in flight from StartHold until here, so assemblies never overlap.
func (m *Machine) signComplete(ctx context.Context, c gesture.Completion) {
	ctx, done := m.telemetry.TrackOperation(ctx, "vector.hold.complete", observability.HoldOperation(c.Kind)...)
	defer done(nil)

	m.mu.Lock()
	s := m.store.Snapshot()
	epoch, ok := m.inflight[ActionStartSign]
	if !ok || epoch != s.Epoch || !s.IdentityLinked || !s.Revealed {
		m.finishLocked(ActionStartSign, epoch)
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "sign completion dropped", "epoch", epoch)
		return
	}
	m.mu.Unlock()

	req := attest.Request{
		Asset:             s.Asset,
		IdentityHandle:    s.IdentityHandle,
		SecondFactorProof: s.SecondFactorProof,
		HoldDurationMs:    c.Nominal.Milliseconds(),
		Attested:          s.LogLength,
	}
	actx, finish := m.telemetry.TrackOperation(ctx, "vector.assemble",
		observability.AttestationOperation(s.Asset, m.assembler.TrustClass())...)
	rec, err := m.assembler.Assemble(actx, req)
	finish(err)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishLocked(ActionStartSign, epoch)
	if m.store.Epoch() != epoch {
		m.logger.DebugContext(ctx, "stale attestation dropped", "epoch", epoch)
		return
	}
	if err != nil {
		m.store.SetError(err)
		m.logger.WarnContext(ctx, "attestation failed", "error", err)
		return
	}
	entry, err := m.store.Commit(ctx, rec)
	if err != nil {
		m.store.SetError(fmt.Errorf("record attestation: %w", err))
		m.logger.ErrorContext(ctx, "attestation not recorded", "nonce", rec.Nonce, "error", err)
		return
	}
	m.store.ClearError()
	m.logger.InfoContext(ctx, "intent attested",
		"seq", entry.Seq,
		"nonce", rec.Nonce,
		"asset", rec.Asset,
		"hold_ms", rec.HoldDurationMs,
		"elapsed_ms", c.Elapsed.Milliseconds(),
	)
}
