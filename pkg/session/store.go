// Package session holds the mutable state of one attestation session.
//
// The Store is plain data behind a mutex. Every write goes through a typed
// setter; sequencing rules live in the vector package, which is the only
// intended writer. The setters still refuse writes that would break the
// ordering invariants (revealed before verified, verified before linked) so a
// misbehaving caller cannot corrupt the state.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jathongeovanni-coder/vext-vault/pkg/auditlog"
	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
)

// PricePlaceholder is shown until a price has been fetched.
const PricePlaceholder = "—"

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	ID                string
	IdentityLinked    bool
	IdentityHandle    string
	Verified          bool
	SecondFactorProof string
	Revealed          bool
	Attested          bool
	HoldProgress      map[contracts.HoldKind]int
	Holding           map[contracts.HoldKind]bool
	LastError         string // empty when there is no error
	Asset             contracts.Asset
	Prices            map[contracts.Asset]string
	Epoch             uint64
	LogLength         int
}

// Listener observes state changes. Listeners run in mutation order on a
// dispatch goroutine owned by the store, never on the goroutine that made the
// change, so they may call back into whatever drives the store.
type Listener func(Snapshot)

type notification struct {
	snap      Snapshot
	listeners []Listener
}

type holdState struct {
	progress int
	holding  bool
}

// Store is the single owner of session state.
type Store struct {
	mu sync.RWMutex

	id                string
	identityLinked    bool
	identityHandle    string
	verified          bool
	secondFactorProof string
	revealed          bool
	attested          bool
	holds             map[contracts.HoldKind]*holdState
	lastError         string
	asset             contracts.Asset
	prices            map[contracts.Asset]string
	epoch             uint64

	log       *auditlog.Log
	listeners []Listener

	// nmu guards the dispatch queue. It is taken after mu, never before.
	nmu      sync.Mutex
	idle     *sync.Cond
	pending  []notification
	draining bool
}

// New creates a fresh session writing attestations to log.
func New(log *auditlog.Log) *Store {
	return NewWithID(uuid.NewString(), log)
}

// NewWithID creates a session with a caller-chosen identifier, for logs whose
// sinks are keyed by session.
func NewWithID(id string, log *auditlog.Log) *Store {
	if log == nil {
		log = auditlog.New()
	}
	s := &Store{
		id:     id,
		holds:  make(map[contracts.HoldKind]*holdState),
		asset:  contracts.DefaultAsset,
		prices: make(map[contracts.Asset]string),
		log:    log,
	}
	s.idle = sync.NewCond(&s.nmu)
	for _, k := range contracts.HoldKinds() {
		s.holds[k] = &holdState{}
	}
	for _, a := range contracts.Assets() {
		s.prices[a] = PricePlaceholder
	}
	return s
}

// ID returns the session identifier.
func (s *Store) ID() string { return s.id }

// Log returns the session audit log.
func (s *Store) Log() *auditlog.Log { return s.log }

// OnChange registers a listener for every committed mutation.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Snapshot copies the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:                s.id,
		IdentityLinked:    s.identityLinked,
		IdentityHandle:    s.identityHandle,
		Verified:          s.verified,
		SecondFactorProof: s.secondFactorProof,
		Revealed:          s.revealed,
		Attested:          s.attested,
		HoldProgress:      make(map[contracts.HoldKind]int, len(s.holds)),
		Holding:           make(map[contracts.HoldKind]bool, len(s.holds)),
		LastError:         s.lastError,
		Asset:             s.asset,
		Prices:            make(map[contracts.Asset]string, len(s.prices)),
		Epoch:             s.epoch,
		LogLength:         s.log.Len(),
	}
	for k, h := range s.holds {
		snap.HoldProgress[k] = h.progress
		snap.Holding[k] = h.holding
	}
	for a, p := range s.prices {
		snap.Prices[a] = p
	}
	return snap
}

// Sync blocks until every notification queued so far has been delivered.
// It must not be called from a listener.
func (s *Store) Sync() {
	s.nmu.Lock()
	for s.draining {
		s.idle.Wait()
	}
	s.nmu.Unlock()
}

// mutate applies fn under the write lock and queues a notification when fn
// reports a change. Queueing under mu keeps delivery in mutation order.
func (s *Store) mutate(fn func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := fn()
	if changed && len(s.listeners) > 0 {
		s.enqueue(notification{
			snap:      s.snapshotLocked(),
			listeners: append([]Listener(nil), s.listeners...),
		})
	}
	return changed
}

func (s *Store) enqueue(n notification) {
	s.nmu.Lock()
	defer s.nmu.Unlock()
	s.pending = append(s.pending, n)
	if !s.draining {
		s.draining = true
		go s.drain()
	}
}

// drain delivers queued notifications until the queue is empty.
func (s *Store) drain() {
	for {
		s.nmu.Lock()
		if len(s.pending) == 0 {
			s.pending = nil
			s.draining = false
			s.idle.Broadcast()
			s.nmu.Unlock()
			return
		}
		n := s.pending[0]
		s.pending = s.pending[1:]
		s.nmu.Unlock()

		for _, l := range n.listeners {
			l(n.snap)
		}
	}
}

// Epoch returns the current session epoch. Async work captures it before
// suspending and compares it again before writing results.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// BumpEpoch invalidates all in-flight async results and returns the new epoch.
func (s *Store) BumpEpoch() uint64 {
	var e uint64
	s.mutate(func() bool {
		s.epoch++
		e = s.epoch
		return true
	})
	return e
}

// SetLinked records a successful identity link.
func (s *Store) SetLinked(handle string) bool {
	return s.mutate(func() bool {
		if handle == "" || (s.identityLinked && s.identityHandle == handle) {
			return false
		}
		s.identityLinked = true
		s.identityHandle = handle
		return true
	})
}

// ClearLink drops the identity link and every vector that depends on it.
func (s *Store) ClearLink() bool {
	return s.mutate(func() bool {
		if !s.identityLinked {
			return false
		}
		s.identityLinked = false
		s.identityHandle = ""
		s.verified = false
		s.secondFactorProof = ""
		s.revealed = false
		s.attested = false
		return true
	})
}

// SetVerified records second-factor completion. It requires a linked identity.
func (s *Store) SetVerified(proof string) bool {
	return s.mutate(func() bool {
		if !s.identityLinked || s.verified || proof == "" {
			return false
		}
		s.verified = true
		s.secondFactorProof = proof
		return true
	})
}

// SetRevealed records a completed reveal hold. It requires verification.
func (s *Store) SetRevealed() bool {
	return s.mutate(func() bool {
		if !s.verified || s.revealed {
			return false
		}
		s.revealed = true
		return true
	})
}

// SetAttested sets or clears the display flag for the latest attestation.
func (s *Store) SetAttested(v bool) bool {
	return s.mutate(func() bool {
		if s.attested == v {
			return false
		}
		s.attested = v
		return true
	})
}

// Commit appends a to the audit log and marks the session attested. Nothing
// changes if the append fails.
func (s *Store) Commit(ctx context.Context, a contracts.IntentAttestation) (auditlog.Entry, error) {
	var (
		entry auditlog.Entry
		err   error
	)
	s.mutate(func() bool {
		if !s.identityLinked || !s.revealed {
			err = fmt.Errorf("session: commit requires linked identity and revealed vault")
			return false
		}
		entry, err = s.log.Append(ctx, a)
		if err != nil {
			return false
		}
		s.attested = true
		return true
	})
	return entry, err
}

// BeginHold marks kind as held with progress 0. It returns false if kind is already held.
func (s *Store) BeginHold(kind contracts.HoldKind) bool {
	return s.mutate(func() bool {
		h, ok := s.holds[kind]
		if !ok || h.holding {
			return false
		}
		h.holding = true
		h.progress = 0
		return true
	})
}

// AdvanceHold adds one step to a held kind and returns the new progress.
// Progress never exceeds contracts.HoldSteps; a kind that is not held stays put.
func (s *Store) AdvanceHold(kind contracts.HoldKind) int {
	var p int
	s.mutate(func() bool {
		h, ok := s.holds[kind]
		if !ok || !h.holding {
			return false
		}
		if h.progress < contracts.HoldSteps {
			h.progress++
		}
		p = h.progress
		return true
	})
	return p
}

// EndHold releases kind and resets its progress to 0.
func (s *Store) EndHold(kind contracts.HoldKind) bool {
	return s.mutate(func() bool {
		h, ok := s.holds[kind]
		if !ok || (!h.holding && h.progress == 0) {
			return false
		}
		h.holding = false
		h.progress = 0
		return true
	})
}

// Holding reports whether kind is currently held.
func (s *Store) Holding(kind contracts.HoldKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holds[kind]
	return ok && h.holding
}

// Progress returns the hold progress of kind in [0, HoldSteps].
func (s *Store) Progress(kind contracts.HoldKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.holds[kind]; ok {
		return h.progress
	}
	return 0
}

// SetError records a recoverable error for display.
func (s *Store) SetError(err error) bool {
	if err == nil {
		return s.ClearError()
	}
	msg := err.Error()
	return s.mutate(func() bool {
		if s.lastError == msg {
			return false
		}
		s.lastError = msg
		return true
	})
}

// ClearError removes the displayed error.
func (s *Store) ClearError() bool {
	return s.mutate(func() bool {
		if s.lastError == "" {
			return false
		}
		s.lastError = ""
		return true
	})
}

// SetAsset changes the selected instrument.
func (s *Store) SetAsset(a contracts.Asset) bool {
	if !a.Valid() {
		return false
	}
	return s.mutate(func() bool {
		if s.asset == a {
			return false
		}
		s.asset = a
		return true
	})
}

// SetPrice stores the latest spot price string for a.
func (s *Store) SetPrice(a contracts.Asset, amount string) bool {
	if !a.Valid() || amount == "" {
		return false
	}
	return s.mutate(func() bool {
		if s.prices[a] == amount {
			return false
		}
		s.prices[a] = amount
		return true
	})
}
