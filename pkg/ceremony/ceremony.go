// Package ceremony decides whether a completed hold qualifies as deliberate
// intent worth attesting.
package ceremony

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
)

// ErrPolicyDenied is returned when a request does not satisfy the ceremony policy.
var ErrPolicyDenied = errors.New("ceremony: policy denied")

// DefaultDomain prefixes every canonical intent message.
const DefaultDomain = "vext:intent:v1"

// Policy defines the requirements for an intent ceremony.
type Policy struct {
	MinHoldMs            int64  `json:"min_hold_ms" yaml:"min_hold_ms"`                       // Minimum nominal hold duration
	RequireSecondFactor  bool   `json:"require_second_factor" yaml:"require_second_factor"`   // Proof must be non-empty
	RequireIdentityTrust bool   `json:"require_identity_trust" yaml:"require_identity_trust"` // Refuse device-signed attestations
	DomainSeparation     string `json:"domain_separation" yaml:"domain_separation"`           // Domain prefix for signature scope
	Rule                 string `json:"rule,omitempty" yaml:"rule,omitempty"`                 // Optional CEL admission rule
}

// DefaultPolicy accepts the standard 1500ms hold with any trust class.
func DefaultPolicy() Policy {
	return Policy{
		MinHoldMs:           1000,
		RequireSecondFactor: true,
		DomainSeparation:    DefaultDomain,
	}
}

// StrictPolicy additionally requires the user's identity key to sign.
func StrictPolicy() Policy {
	return Policy{
		MinHoldMs:            1500,
		RequireSecondFactor:  true,
		RequireIdentityTrust: true,
		DomainSeparation:     DefaultDomain + ":strict",
	}
}

// Request is what the assembler knows when a sign hold completes.
type Request struct {
	Asset             contracts.Asset      `json:"asset"`
	IdentityHandle    string               `json:"identity_handle"`
	SecondFactorProof string               `json:"second_factor_proof"`
	HoldMs            int64                `json:"hold_ms"`
	TrustClass        contracts.TrustClass `json:"trust_class"`
	Attested          int                  `json:"attested"` // attestations already in this session
}

// Result is the outcome of ceremony validation.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Err converts a failed result into an ErrPolicyDenied error.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPolicyDenied, r.Reason)
}

// Validate checks the static policy requirements. The CEL rule is evaluated by Gate.
func (p Policy) Validate(req Request) Result {
	if !req.Asset.Valid() {
		return Result{Reason: fmt.Sprintf("unsupported asset %q", req.Asset)}
	}
	if req.IdentityHandle == "" {
		return Result{Reason: "identity handle is required"}
	}
	if req.HoldMs < p.MinHoldMs {
		return Result{Reason: fmt.Sprintf("hold time %dms < minimum %dms", req.HoldMs, p.MinHoldMs)}
	}
	if p.RequireSecondFactor && req.SecondFactorProof == "" {
		return Result{Reason: "second factor proof is required"}
	}
	if p.RequireIdentityTrust && req.TrustClass != contracts.TrustClassIdentity {
		return Result{Reason: fmt.Sprintf("trust class %q not accepted", req.TrustClass)}
	}
	if strings.TrimSpace(p.DomainSeparation) == "" {
		return Result{Reason: "domain separation is required"}
	}
	return Result{Valid: true}
}
