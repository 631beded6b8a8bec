package attest

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
)

// TokenIssuer is the iss claim of attestation tokens.
const TokenIssuer = "vext/attest"

// TokenClaims carries an attestation as a compact, independently signed JWT
// for handing to a merchant.
type TokenClaims struct {
	jwt.RegisteredClaims
	Asset      contracts.Asset      `json:"asset"`
	HoldMs     int64                `json:"hold_ms"`
	TrustClass contracts.TrustClass `json:"trust_class"`
	Signature  string               `json:"att_sig"`
	SignerKey  string               `json:"att_key"`
}

// IssueToken wraps a in an EdDSA JWT signed by key, valid for ttl from the attestation time.
func IssueToken(a contracts.IntentAttestation, key ed25519.PrivateKey, ttl time.Duration) (string, error) {
	issued := time.Unix(a.TimestampUTC, 0).UTC()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        a.Nonce, // JTI
			Subject:   a.IdentityHandle,
			Issuer:    TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
		Asset:      a.Asset,
		HoldMs:     a.HoldDurationMs,
		TrustClass: a.TrustClass,
		Signature:  a.Signature,
		SignerKey:  a.SignerKey,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("attest: sign token: %w", err)
	}
	return tok, nil
}

// ParseToken validates an attestation token against pub.
func ParseToken(token string, pub ed25519.PublicKey, opts ...jwt.ParserOption) (*TokenClaims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}), jwt.WithIssuer(TokenIssuer))
	tok, err := jwt.ParseWithClaims(token, &TokenClaims{}, func(*jwt.Token) (any, error) {
		return pub, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims, ok := tok.Claims.(*TokenClaims); ok && tok.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenSignatureInvalid
}
