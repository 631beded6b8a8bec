// Package attest builds and verifies intent attestations.
//
// The signed message is the JCS form of a JSON array holding a domain prefix
// followed by the claims in fixed order:
//
//	[domain, nonce, timestamp_utc, identity_handle, hold_duration_ms, asset, second_factor_proof]
//
// String claims are NFC-normalized first, so visually identical handles or
// proofs always produce the same bytes.
package attest

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
)

// Claims are the signed fields of an IntentAttestation.
type Claims struct {
	Nonce             string
	TimestampUTC      int64
	IdentityHandle    string
	HoldDurationMs    int64
	Asset             contracts.Asset
	SecondFactorProof string
}

// ClaimsOf extracts the signed fields of a.
func ClaimsOf(a contracts.IntentAttestation) Claims {
	return Claims{
		Nonce:             a.Nonce,
		TimestampUTC:      a.TimestampUTC,
		IdentityHandle:    a.IdentityHandle,
		HoldDurationMs:    a.HoldDurationMs,
		Asset:             a.Asset,
		SecondFactorProof: a.SecondFactorProof,
	}
}

// Canonicalize returns the bytes that are signed for c under domain.
func Canonicalize(domain string, c Claims) ([]byte, error) {
	if domain == "" {
		return nil, fmt.Errorf("attest: empty domain")
	}
	fields := []any{
		norm.NFC.String(domain),
		norm.NFC.String(c.Nonce),
		c.TimestampUTC,
		norm.NFC.String(c.IdentityHandle),
		c.HoldDurationMs,
		norm.NFC.String(string(c.Asset)),
		norm.NFC.String(c.SecondFactorProof),
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("attest: marshal claims: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("attest: canonicalize: %w", err)
	}
	return out, nil
}
