package contracts

// TrustClass identifies whose key produced an attestation signature.
type TrustClass string

const (
	// TrustClassIdentity marks signatures made by the user's linked identity key
	// through the signing bridge.
	TrustClassIdentity TrustClass = "identity"
	// TrustClassDevice marks signatures made by a locally held device key. A device
	// signature attests that this device observed the intent vectors; it says
	// nothing about the user's identity.
	TrustClassDevice TrustClass = "device"
)

// RecordFormatVersion is the wire version of IntentAttestation.
const RecordFormatVersion = "1.0.0"

// IntentAttestation is the immutable signed record produced after all three
// vectors are satisfied. Signature covers the canonical serialization of
// Nonce, TimestampUTC, IdentityHandle, HoldDurationMs, Asset and
// SecondFactorProof, in that order.
type IntentAttestation struct {
	Asset             Asset  `json:"asset"`
	IdentityHandle    string `json:"identity_handle"`
	SecondFactorProof string `json:"second_factor_proof"`
	HoldDurationMs    int64  `json:"hold_duration_ms"`
	Nonce             string `json:"nonce"`
	TimestampUTC      int64  `json:"timestamp_utc"`
	Entropy           string `json:"entropy"`
	Signature         string `json:"signature"` // hex

	// Envelope fields, outside the signed payload.
	Version    string     `json:"version"`
	TrustClass TrustClass `json:"trust_class"`
	SignerKey  string     `json:"signer_key"` // hex public key that verifies Signature
}
