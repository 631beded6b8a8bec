package contracts

// HoldKind names one of the two independent press-and-hold actions.
type HoldKind string

const (
	HoldReveal HoldKind = "reveal"
	HoldSign   HoldKind = "sign"
)

// HoldKinds returns both kinds in vector order.
func HoldKinds() []HoldKind {
	return []HoldKind{HoldReveal, HoldSign}
}

// HoldSteps is the number of ticks a hold ramp needs to complete.
const HoldSteps = 100
