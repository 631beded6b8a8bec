package bridge

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	handle  string
	sig     []byte
	connErr error
	signErr error
}

func (s *stubProvider) Connect(context.Context) (string, error) { return s.handle, s.connErr }
func (s *stubProvider) SignMessage(context.Context, []byte) ([]byte, error) {
	return s.sig, s.signErr
}

func testKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return ed25519.NewKeyFromSeed(seed)
}

func TestAdapter_ProviderAbsent(t *testing.T) {
	ctx := context.Background()
	var typedNil *LocalWallet

	for name, detect := range map[string]Detector{
		"nil detector": nil,
		"nil provider": Static(nil),
		"typed nil":    Static(typedNil),
	} {
		t.Run(name, func(t *testing.T) {
			a := NewAdapter(detect)
			assert.False(t, a.Present())

			_, err := a.Connect(ctx)
			assert.ErrorIs(t, err, ErrProviderAbsent)
			_, err = a.SignMessage(ctx, []byte("m"))
			assert.ErrorIs(t, err, ErrProviderAbsent)
		})
	}
}

func TestAdapter_ConnectClassification(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"explicit decline", &ProviderError{Code: CodeUserRejected, Message: "no"}, ErrUserRejected},
		{"unknown error", errors.New("popup closed"), ErrUserRejected},
		{"already classified", ErrProviderAbsent, ErrProviderAbsent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAdapter(Static(&stubProvider{connErr: tc.err}))
			handle, err := a.Connect(ctx)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, handle)
		})
	}
}

func TestAdapter_SignClassification(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"explicit decline", &ProviderError{Code: CodeUserRejected}, ErrSigningRejected},
		{"internal failure", &ProviderError{Code: -32603, Message: "internal"}, ErrSigningFailed},
		{"unknown error", errors.New("boom"), ErrSigningFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAdapter(Static(&stubProvider{handle: "ABC123", signErr: tc.err}))
			sig, err := a.SignMessage(ctx, []byte("m"))
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, Recoverable(err))
			assert.Nil(t, sig)
		})
	}
}

func TestAdapter_EmptyResultsAreFailures(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(Static(&stubProvider{}))

	_, err := a.Connect(ctx)
	assert.ErrorIs(t, err, ErrUserRejected)
	_, err = a.SignMessage(ctx, []byte("m"))
	assert.ErrorIs(t, err, ErrSigningFailed)
}

func TestAdapter_DetectsLateProvider(t *testing.T) {
	var installed Provider
	a := NewAdapter(func() Provider { return installed })
	assert.False(t, a.Present())

	installed = &stubProvider{handle: "ABC123"}
	assert.True(t, a.Present())
	h, err := a.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ABC123", h)
}

func TestLocalWallet_ConnectAndSign(t *testing.T) {
	ctx := context.Background()
	priv := testKey(t)
	w := NewLocalWallet(priv, nil)
	a := NewAdapter(Static(w))

	_, err := a.SignMessage(ctx, []byte("m"))
	assert.ErrorIs(t, err, ErrSigningFailed, "signing before connect")

	handle, err := a.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, w.PublicKey(), handle)

	msg := []byte("vext")
	sig, err := a.SignMessage(ctx, msg)
	require.NoError(t, err)

	pub, err := hex.DecodeString(handle)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, msg, sig))

	require.NoError(t, a.Disconnect(ctx))
	assert.False(t, w.Connected())
	_, err = a.SignMessage(ctx, msg)
	assert.Error(t, err)
}

func TestAdapter_DisconnectIsOptional(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, NewAdapter(nil).Disconnect(ctx), "absent provider")
	assert.NoError(t, NewAdapter(Static(&stubProvider{handle: "ABC123"})).Disconnect(ctx), "provider without Disconnecter")
}

func TestLocalWallet_ConsentDeclined(t *testing.T) {
	ctx := context.Background()
	allowConnect := true
	w := NewLocalWallet(testKey(t), func(_ context.Context, purpose string, _ []byte) bool {
		return purpose == "connect" && allowConnect
	})
	a := NewAdapter(Static(w))

	allowConnect = false
	_, err := a.Connect(ctx)
	assert.ErrorIs(t, err, ErrUserRejected)

	allowConnect = true
	_, err = a.Connect(ctx)
	require.NoError(t, err)
	_, err = a.SignMessage(ctx, []byte("m"))
	assert.ErrorIs(t, err, ErrSigningRejected)
}

func TestShortHandle(t *testing.T) {
	assert.Equal(t, "ABC123", ShortHandle("ABC123XYZ"))
	assert.Equal(t, "AB", ShortHandle("AB"))
}
