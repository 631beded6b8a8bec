package attest

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
)

// ErrBadSignature is returned when a record's signature does not verify.
var ErrBadSignature = errors.New("attest: signature does not verify")

// Verify re-serializes a's claims under domain and checks the signature
// against a.SignerKey. Identity-class records must be signed by their own
// identity handle.
func Verify(a contracts.IntentAttestation, domain string) error {
	if err := CheckFormat(a.Version); err != nil {
		return err
	}
	switch a.TrustClass {
	case contracts.TrustClassIdentity:
		if a.SignerKey != a.IdentityHandle {
			return fmt.Errorf("%w: identity record signed by foreign key", ErrBadSignature)
		}
	case contracts.TrustClassDevice:
	default:
		return fmt.Errorf("%w: unknown trust class %q", ErrBadSignature, a.TrustClass)
	}

	pub, err := hex.DecodeString(a.SignerKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: invalid signer key", ErrBadSignature)
	}
	sig, err := hex.DecodeString(a.Signature)
	if err != nil {
		return fmt.Errorf("%w: invalid signature hex", ErrBadSignature)
	}
	msg, err := Canonicalize(domain, ClaimsOf(a))
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return ErrBadSignature
	}
	return nil
}
