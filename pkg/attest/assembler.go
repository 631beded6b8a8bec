package attest

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/jathongeovanni-coder/vext-vault/pkg/bridge"
	"github.com/jathongeovanni-coder/vext-vault/pkg/ceremony"
	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
	"github.com/jathongeovanni-coder/vext-vault/pkg/nonce"
)

// Request carries the session facts an attestation asserts.
type Request struct {
	Asset             contracts.Asset
	IdentityHandle    string
	SecondFactorProof string
	HoldDurationMs    int64
	// Attested counts attestations already produced in the session.
	Attested int
}

// Assembler turns a completed sign hold into a signed IntentAttestation.
// Assembly is all-or-nothing: any failure returns an error and no record.
type Assembler struct {
	signer   Signer
	gate     *ceremony.Gate
	registry nonce.Registry
	now      func() time.Time
	newNonce func() string
	entropy  func() string
	logger   *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithClock sets the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithNonceSource replaces the nonce generator.
func WithNonceSource(fn func() string) Option {
	return func(a *Assembler) { a.newNonce = fn }
}

// WithEntropy replaces the entropy tag generator.
func WithEntropy(fn func() string) Option {
	return func(a *Assembler) { a.entropy = fn }
}

// WithRegistry claims each nonce in r before signing.
func WithRegistry(r nonce.Registry) Option {
	return func(a *Assembler) { a.registry = r }
}

// WithLogger sets the assembler logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// NewAssembler creates an assembler signing with signer under gate's policy.
// A nil gate applies ceremony.DefaultPolicy.
func NewAssembler(signer Signer, gate *ceremony.Gate, opts ...Option) *Assembler {
	a := &Assembler{
		signer:   signer,
		gate:     gate,
		registry: nonce.NewMemoryRegistry(0),
		now:      time.Now,
		newNonce: uuid.NewString,
		entropy:  Entropy,
		logger:   slog.Default().With("component", "attest"),
	}
	if a.gate == nil {
		// A policy without a rule always compiles.
		a.gate, _ = ceremony.Compile(ceremony.DefaultPolicy())
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TrustClass returns the trust class of records this assembler produces.
func (a *Assembler) TrustClass() contracts.TrustClass { return a.signer.TrustClass() }

// Domain returns the domain separation prefix in use.
func (a *Assembler) Domain() string { return a.gate.Domain() }

// Assemble admits req under the ceremony policy, claims a fresh nonce,
// signs the canonical message and returns the finished record.
func (a *Assembler) Assemble(ctx context.Context, req Request) (contracts.IntentAttestation, error) {
	err := a.gate.Admit(ceremony.Request{
		Asset:             req.Asset,
		IdentityHandle:    req.IdentityHandle,
		SecondFactorProof: req.SecondFactorProof,
		HoldMs:            req.HoldDurationMs,
		TrustClass:        a.signer.TrustClass(),
		Attested:          req.Attested,
	})
	if err != nil {
		return contracts.IntentAttestation{}, err
	}

	claims := Claims{
		Nonce:             a.newNonce(),
		TimestampUTC:      a.now().UTC().Unix(),
		IdentityHandle:    req.IdentityHandle,
		HoldDurationMs:    req.HoldDurationMs,
		Asset:             req.Asset,
		SecondFactorProof: req.SecondFactorProof,
	}
	if err := a.registry.Claim(ctx, claims.Nonce); err != nil {
		return contracts.IntentAttestation{}, err
	}

	msg, err := Canonicalize(a.gate.Domain(), claims)
	if err != nil {
		return contracts.IntentAttestation{}, err
	}
	sig, signerKey, err := a.signer.Sign(ctx, claims, msg)
	if err != nil {
		return contracts.IntentAttestation{}, err
	}
	if len(sig) == 0 || signerKey == "" {
		return contracts.IntentAttestation{}, fmt.Errorf("%w: empty signature", bridge.ErrSigningFailed)
	}

	rec := contracts.IntentAttestation{
		Asset:             claims.Asset,
		IdentityHandle:    claims.IdentityHandle,
		SecondFactorProof: claims.SecondFactorProof,
		HoldDurationMs:    claims.HoldDurationMs,
		Nonce:             claims.Nonce,
		TimestampUTC:      claims.TimestampUTC,
		Entropy:           a.entropy(),
		Signature:         hex.EncodeToString(sig),
		Version:           contracts.RecordFormatVersion,
		TrustClass:        a.signer.TrustClass(),
		SignerKey:         signerKey,
	}
	a.logger.InfoContext(ctx, "attestation assembled",
		"nonce", rec.Nonce,
		"asset", rec.Asset,
		"trust_class", rec.TrustClass,
		"handle", bridge.ShortHandle(rec.IdentityHandle),
	)
	return rec, nil
}

// Entropy returns an auxiliary randomness tag. It is not a security parameter.
func Entropy() string {
	return fmt.Sprintf("%016x", rand.Uint64())
}
