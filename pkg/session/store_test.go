package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
)

func TestNew_Defaults(t *testing.T) {
	s := New(nil)
	snap := s.Snapshot()

	assert.NotEmpty(t, snap.ID)
	assert.False(t, snap.IdentityLinked)
	assert.Equal(t, contracts.DefaultAsset, snap.Asset)
	assert.Equal(t, 0, snap.LogLength)
	for _, k := range contracts.HoldKinds() {
		assert.Equal(t, 0, snap.HoldProgress[k])
		assert.False(t, snap.Holding[k])
	}
	for _, a := range contracts.Assets() {
		assert.Equal(t, PricePlaceholder, snap.Prices[a])
	}
}

func TestNewWithID(t *testing.T) {
	s := NewWithID("session-7", nil)
	assert.Equal(t, "session-7", s.ID())
	assert.Equal(t, "session-7", s.Snapshot().ID)
	assert.NotNil(t, s.Log())
}

func TestStore_OrderingInvariants(t *testing.T) {
	s := New(nil)

	assert.False(t, s.SetVerified("2fa"), "verify before link")
	assert.False(t, s.SetRevealed(), "reveal before verify")

	require.True(t, s.SetLinked("ABC123"))
	assert.False(t, s.SetRevealed(), "reveal before verify")
	require.True(t, s.SetVerified("2fa"))
	require.True(t, s.SetRevealed())
	assert.False(t, s.SetRevealed(), "second reveal is not a change")

	snap := s.Snapshot()
	assert.True(t, snap.IdentityLinked)
	assert.Equal(t, "ABC123", snap.IdentityHandle)
	assert.True(t, snap.Verified)
	assert.True(t, snap.Revealed)
}

func TestStore_ClearLinkCascades(t *testing.T) {
	s := New(nil)
	s.SetLinked("ABC123")
	s.SetVerified("2fa")
	s.SetRevealed()
	s.SetAttested(true)

	require.True(t, s.ClearLink())
	snap := s.Snapshot()
	assert.False(t, snap.IdentityLinked)
	assert.Empty(t, snap.IdentityHandle)
	assert.False(t, snap.Verified)
	assert.False(t, snap.Revealed)
	assert.False(t, snap.Attested)
}

func TestStore_HoldLifecycle(t *testing.T) {
	s := New(nil)

	assert.Equal(t, 0, s.AdvanceHold(contracts.HoldReveal), "not held")
	require.True(t, s.BeginHold(contracts.HoldReveal))
	assert.False(t, s.BeginHold(contracts.HoldReveal), "already held")

	for i := 1; i <= contracts.HoldSteps+5; i++ {
		s.AdvanceHold(contracts.HoldReveal)
	}
	assert.Equal(t, contracts.HoldSteps, s.Progress(contracts.HoldReveal))
	assert.Equal(t, 0, s.Progress(contracts.HoldSign), "kinds are independent")

	require.True(t, s.EndHold(contracts.HoldReveal))
	assert.False(t, s.Holding(contracts.HoldReveal))
	assert.Equal(t, 0, s.Progress(contracts.HoldReveal))
}

func TestStore_Errors(t *testing.T) {
	s := New(nil)
	assert.True(t, s.SetError(errors.New("boom")))
	assert.Equal(t, "boom", s.Snapshot().LastError)
	assert.True(t, s.SetError(nil))
	assert.Empty(t, s.Snapshot().LastError)
	assert.False(t, s.ClearError())
}

func TestStore_AssetAndPrice(t *testing.T) {
	s := New(nil)
	assert.False(t, s.SetAsset("DOGE"))
	assert.True(t, s.SetAsset(contracts.AssetBTC))
	assert.True(t, s.SetPrice(contracts.AssetBTC, "64000.12"))
	assert.False(t, s.SetPrice(contracts.AssetBTC, ""))

	snap := s.Snapshot()
	assert.Equal(t, contracts.AssetBTC, snap.Asset)
	assert.Equal(t, "64000.12", snap.Prices[contracts.AssetBTC])
}

func TestStore_CommitRequiresRevealed(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	a := contracts.IntentAttestation{Nonce: "n-1", Asset: contracts.AssetSOL}

	_, err := s.Commit(ctx, a)
	require.Error(t, err)
	assert.Equal(t, 0, s.Log().Len())

	s.SetLinked("ABC123")
	s.SetVerified("2fa")
	s.SetRevealed()
	e, err := s.Commit(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Seq)
	assert.True(t, s.Snapshot().Attested)

	s.SetAttested(false)
	_, err = s.Commit(ctx, a)
	require.Error(t, err, "duplicate nonce")
	assert.False(t, s.Snapshot().Attested)
	assert.Equal(t, 1, s.Log().Len())
}

func TestStore_ListenersSeeCommittedState(t *testing.T) {
	s := New(nil)
	var seen []Snapshot
	s.OnChange(func(snap Snapshot) { seen = append(seen, snap) })

	s.SetLinked("ABC123")
	s.SetLinked("ABC123") // no change, no notification
	e := s.BumpEpoch()
	s.Sync()

	require.Len(t, seen, 2)
	assert.True(t, seen[0].IdentityLinked)
	assert.Equal(t, e, seen[1].Epoch)
	assert.Equal(t, e, s.Epoch())
}

func TestStore_ListenersRunOffTheMutatingGoroutine(t *testing.T) {
	s := New(nil)
	var mu sync.Mutex
	got := make(chan Snapshot, 8)
	s.OnChange(func(snap Snapshot) {
		// A caller holding mu while mutating must not block delivery.
		mu.Lock()
		defer mu.Unlock()
		got <- snap
	})

	mu.Lock()
	s.SetLinked("ABC123")
	s.SetAsset(contracts.AssetBTC)
	mu.Unlock()

	for _, want := range []func(Snapshot) bool{
		func(snap Snapshot) bool { return snap.IdentityLinked && snap.Asset == contracts.DefaultAsset },
		func(snap Snapshot) bool { return snap.Asset == contracts.AssetBTC },
	} {
		select {
		case snap := <-got:
			assert.True(t, want(snap))
		case <-time.After(time.Second):
			t.Fatal("listener not notified")
		}
	}
	s.Sync()
}
