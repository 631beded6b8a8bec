package vector

import (
	"errors"
	"fmt"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
	"github.com/jathongeovanni-coder/vext-vault/pkg/session"
)

// ErrGuardViolation means an action was attempted out of sequence. Public
// actions treat it as a silent no-op; Check exposes it.
var ErrGuardViolation = errors.New("vector: guard violation")

// Action names a user-triggered operation.
type Action string

const (
	ActionConnect     Action = "connect"
	ActionVerify      Action = "verify"
	ActionStartReveal Action = "start_reveal"
	ActionStartSign   Action = "start_sign"
	ActionSelectAsset Action = "select_asset"
	ActionReset       Action = "reset"
	ActionDisconnect  Action = "disconnect"
)

// holdAction maps a hold kind to the action that starts it.
func holdAction(kind contracts.HoldKind) Action {
	if kind == contracts.HoldSign {
		return ActionStartSign
	}
	return ActionStartReveal
}

// PhaseOf derives the vector phase from a snapshot. busySigning reports an
// assembly in flight for the current epoch.
func PhaseOf(s session.Snapshot, busySigning bool) contracts.Phase {
	switch {
	case !s.IdentityLinked:
		return contracts.PhaseInit
	case !s.Verified:
		return contracts.PhaseLinked
	case !s.Revealed:
		return contracts.PhaseVerified
	case s.Holding[contracts.HoldSign] || busySigning:
		return contracts.PhaseSigning
	case s.Attested:
		return contracts.PhaseAttested
	default:
		return contracts.PhaseRevealed
	}
}

// guard evaluates action against the snapshot. inflight reports whether the
// action's own async work is already pending for this epoch.
func guard(action Action, s session.Snapshot, phase contracts.Phase, inflight func(Action) bool) error {
	deny := func(why string) error {
		return fmt.Errorf("%w: %s in %s: %s", ErrGuardViolation, action, phase, why)
	}
	switch action {
	case ActionConnect:
		if s.IdentityLinked {
			return deny("identity already linked")
		}
		if inflight(ActionConnect) {
			return deny("connect pending")
		}
	case ActionVerify:
		if !s.IdentityLinked {
			return deny("identity not linked")
		}
		if s.Verified {
			return deny("already verified")
		}
		if inflight(ActionVerify) {
			return deny("verification pending")
		}
	case ActionStartReveal:
		if !s.Verified {
			return deny("second factor not verified")
		}
		if s.Revealed {
			return deny("already revealed")
		}
		if s.Holding[contracts.HoldReveal] {
			return deny("reveal hold in progress")
		}
	case ActionStartSign:
		if !s.IdentityLinked || !s.Revealed {
			return deny("requires linked identity and revealed vault")
		}
		if s.Holding[contracts.HoldSign] || inflight(ActionStartSign) {
			return deny("signing in progress")
		}
	case ActionSelectAsset:
		if s.Holding[contracts.HoldSign] || inflight(ActionStartSign) {
			return deny("asset is locked while signing")
		}
	case ActionDisconnect:
		if !s.IdentityLinked {
			return deny("identity not linked")
		}
	case ActionReset:
	default:
		return deny("unknown action")
	}
	return nil
}
