package contracts

// Phase is the position of a session in the vector sequence.
type Phase string

const (
	PhaseInit     Phase = "INIT"
	PhaseLinked   Phase = "LINKED"
	PhaseVerified Phase = "VERIFIED"
	PhaseRevealed Phase = "REVEALED"
	// PhaseSigning is the transient sub-state of REVEALED while a sign hold is in progress.
	PhaseSigning Phase = "SIGNING"
	// PhaseAttested is reported while the most recent attestation is displayed.
	// Legal actions are the same as in PhaseRevealed.
	PhaseAttested Phase = "ATTESTED"
)
