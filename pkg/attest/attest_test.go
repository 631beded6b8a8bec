package attest

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jathongeovanni-coder/vext-vault/pkg/bridge"
	"github.com/jathongeovanni-coder/vext-vault/pkg/ceremony"
	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
	"github.com/jathongeovanni-coder/vext-vault/pkg/nonce"
)

var fixedTime = time.Unix(1736962043, 0).UTC()

func seededKey(b byte) ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return ed25519.NewKeyFromSeed(seed)
}

func sequentialNonces() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("nonce-%d", n)
	}
}

func request() Request {
	return Request{
		Asset:             contracts.AssetSOL,
		IdentityHandle:    "ABC123",
		SecondFactorProof: "2FA_CONFIRMED",
		HoldDurationMs:    1500,
	}
}

func newDeviceAssembler(t *testing.T, opts ...Option) *Assembler {
	t.Helper()
	opts = append([]Option{
		WithClock(func() time.Time { return fixedTime }),
		WithNonceSource(sequentialNonces()),
		WithEntropy(func() string { return "00000000000000aa" }),
	}, opts...)
	return NewAssembler(NewDeviceSigner(seededKey(7)), nil, opts...)
}

func TestCanonicalize_FixedOrder(t *testing.T) {
	msg, err := Canonicalize(ceremony.DefaultDomain, Claims{
		Nonce:             "n-1",
		TimestampUTC:      1736962043,
		IdentityHandle:    "ABC123",
		HoldDurationMs:    1500,
		Asset:             contracts.AssetSOL,
		SecondFactorProof: "2FA_CONFIRMED",
	})
	require.NoError(t, err)
	assert.Equal(t, `["vext:intent:v1","n-1",1736962043,"ABC123",1500,"SOL","2FA_CONFIRMED"]`, string(msg))

	_, err = Canonicalize("", Claims{})
	assert.Error(t, err)
}

func TestCanonicalize_NormalizesStrings(t *testing.T) {
	composed := Claims{Nonce: "n", IdentityHandle: "caf\u00e9", Asset: contracts.AssetBTC}
	decomposed := Claims{Nonce: "n", IdentityHandle: "cafe\u0301", Asset: contracts.AssetBTC}

	a, err := Canonicalize("d", composed)
	require.NoError(t, err)
	b, err := Canonicalize("d", decomposed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAssemble_DeviceSignatureVerifies(t *testing.T) {
	asm := newDeviceAssembler(t)
	rec, err := asm.Assemble(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, "nonce-1", rec.Nonce)
	assert.Equal(t, fixedTime.Unix(), rec.TimestampUTC)
	assert.Equal(t, int64(1500), rec.HoldDurationMs)
	assert.Equal(t, contracts.TrustClassDevice, rec.TrustClass)
	assert.Equal(t, contracts.RecordFormatVersion, rec.Version)
	assert.Equal(t, "00000000000000aa", rec.Entropy)
	require.NoError(t, Verify(rec, asm.Domain()))

	tampered := rec
	tampered.HoldDurationMs = 3000
	assert.ErrorIs(t, Verify(tampered, asm.Domain()), ErrBadSignature)

	assert.ErrorIs(t, Verify(rec, "other:domain"), ErrBadSignature)

	// Entropy is outside the signed payload.
	relabeled := rec
	relabeled.Entropy = "ff"
	assert.NoError(t, Verify(relabeled, asm.Domain()))
}

func TestAssemble_IdentityThroughBridge(t *testing.T) {
	ctx := context.Background()
	wallet := bridge.NewLocalWallet(seededKey(9), nil)
	adapter := bridge.NewAdapter(bridge.Static(wallet))
	handle, err := adapter.Connect(ctx)
	require.NoError(t, err)

	asm := NewAssembler(NewBridgeSigner(adapter), nil)
	req := request()
	req.IdentityHandle = handle

	rec, err := asm.Assemble(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, contracts.TrustClassIdentity, rec.TrustClass)
	assert.Equal(t, handle, rec.SignerKey)
	require.NoError(t, Verify(rec, ceremony.DefaultDomain))

	forged := rec
	forged.SignerKey = NewDeviceSigner(seededKey(1)).PublicKey()
	assert.ErrorIs(t, Verify(forged, ceremony.DefaultDomain), ErrBadSignature)
}

type failingSigner struct{ calls int }

func (f *failingSigner) TrustClass() contracts.TrustClass { return contracts.TrustClassIdentity }
func (f *failingSigner) Sign(context.Context, Claims, []byte) ([]byte, string, error) {
	f.calls++
	return nil, "", bridge.ErrSigningRejected
}

func TestAssemble_SigningFailureYieldsNoRecord(t *testing.T) {
	s := &failingSigner{}
	rec, err := NewAssembler(s, nil).Assemble(context.Background(), request())
	assert.ErrorIs(t, err, bridge.ErrSigningRejected)
	assert.Equal(t, contracts.IntentAttestation{}, rec)
	assert.Equal(t, 1, s.calls)
}

func TestAssemble_PolicyDenialSkipsSigning(t *testing.T) {
	s := &failingSigner{}
	req := request()
	req.HoldDurationMs = 10

	_, err := NewAssembler(s, nil).Assemble(context.Background(), req)
	assert.ErrorIs(t, err, ceremony.ErrPolicyDenied)
	assert.Equal(t, 0, s.calls)
}

func TestAssemble_ReplayedNonceRefused(t *testing.T) {
	asm := newDeviceAssembler(t,
		WithNonceSource(func() string { return "fixed" }),
		WithRegistry(nonce.NewMemoryRegistry(time.Hour)),
	)
	ctx := context.Background()

	_, err := asm.Assemble(ctx, request())
	require.NoError(t, err)
	_, err = asm.Assemble(ctx, request())
	assert.True(t, errors.Is(err, nonce.ErrReplay))
}

func TestAssemble_NoncesAreUnique(t *testing.T) {
	asm := NewAssembler(NewDeviceSigner(seededKey(3)), nil)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		rec, err := asm.Assemble(context.Background(), request())
		require.NoError(t, err)
		assert.False(t, seen[rec.Nonce], rec.Nonce)
		seen[rec.Nonce] = true
	}
}

func TestCheckFormat(t *testing.T) {
	assert.NoError(t, CheckFormat("1.0.0"))
	assert.NoError(t, CheckFormat("1.4.2"))
	assert.ErrorIs(t, CheckFormat("2.0.0"), ErrUnsupportedFormat)
	assert.ErrorIs(t, CheckFormat("0.9.0"), ErrUnsupportedFormat)
	assert.ErrorIs(t, CheckFormat("latest"), ErrUnsupportedFormat)

	rec := contracts.IntentAttestation{Version: "2.0.0"}
	assert.ErrorIs(t, Verify(rec, ceremony.DefaultDomain), ErrUnsupportedFormat)
}

func TestToken_RoundTrip(t *testing.T) {
	asm := newDeviceAssembler(t)
	rec, err := asm.Assemble(context.Background(), request())
	require.NoError(t, err)

	key := seededKey(7)
	tok, err := IssueToken(rec, key, time.Hour)
	require.NoError(t, err)

	at := jwt.WithTimeFunc(func() time.Time { return fixedTime.Add(time.Minute) })
	claims, err := ParseToken(tok, key.Public().(ed25519.PublicKey), at)
	require.NoError(t, err)
	assert.Equal(t, rec.Nonce, claims.ID)
	assert.Equal(t, rec.IdentityHandle, claims.Subject)
	assert.Equal(t, rec.Signature, claims.Signature)
	assert.Equal(t, rec.Asset, claims.Asset)

	late := jwt.WithTimeFunc(func() time.Time { return fixedTime.Add(2 * time.Hour) })
	_, err = ParseToken(tok, key.Public().(ed25519.PublicKey), late)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = ParseToken(tok, seededKey(8).Public().(ed25519.PublicKey), at)
	assert.Error(t, err)
}
