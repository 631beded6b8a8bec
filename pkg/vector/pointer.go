package vector

import "github.com/jathongeovanni-coder/vext-vault/pkg/contracts"

// PointerKind is the edge of a press gesture.
type PointerKind int

const (
	PointerDown PointerKind = iota
	// PointerUp covers release, leave and cancel.
	PointerUp
)

// Source is the input modality that produced an event. Mouse and touch drive
// the same handlers.
type Source string

const (
	SourceMouse Source = "mouse"
	SourceTouch Source = "touch"
)

// PointerEvent is a press or release over a hold target.
type PointerEvent struct {
	Kind   PointerKind
	Target contracts.HoldKind
	Source Source
}

// Pointer dispatches a pointer event to StartHold or ReleaseHold. It reports
// whether the event changed hold state.
func (m *Machine) Pointer(ev PointerEvent) bool {
	switch ev.Kind {
	case PointerDown:
		return m.StartHold(ev.Target)
	case PointerUp:
		return m.ReleaseHold(ev.Target)
	default:
		return false
	}
}
