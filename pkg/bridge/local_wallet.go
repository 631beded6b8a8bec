package bridge

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"sync"
)

// Consent decides whether the user approves a provider request. purpose is
// "connect" or "sign".
type Consent func(ctx context.Context, purpose string, msg []byte) bool

// LocalWallet is an in-process Provider holding an Ed25519 identity key. The
// handle it returns is the hex public key, which also verifies its signatures.
type LocalWallet struct {
	mu        sync.Mutex
	priv      ed25519.PrivateKey
	consent   Consent
	connected bool
}

// NewLocalWallet creates a wallet around priv. A nil consent approves everything.
func NewLocalWallet(priv ed25519.PrivateKey, consent Consent) *LocalWallet {
	return &LocalWallet{priv: priv, consent: consent}
}

// PublicKey returns the hex public key.
func (w *LocalWallet) PublicKey() string {
	return hex.EncodeToString(w.priv.Public().(ed25519.PublicKey))
}

func (w *LocalWallet) approve(ctx context.Context, purpose string, msg []byte) bool {
	return w.consent == nil || w.consent(ctx, purpose, msg)
}

// Connect implements Provider.
func (w *LocalWallet) Connect(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !w.approve(ctx, "connect", nil) {
		return "", &ProviderError{Code: CodeUserRejected, Message: "user rejected the request"}
	}
	w.mu.Lock()
	w.connected = true
	w.mu.Unlock()
	return w.PublicKey(), nil
}

// SignMessage implements Provider. The wallet must be connected first.
func (w *LocalWallet) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	connected := w.connected
	w.mu.Unlock()
	if !connected {
		return nil, &ProviderError{Code: 4100, Message: "wallet not connected"}
	}
	if !w.approve(ctx, "sign", msg) {
		return nil, &ProviderError{Code: CodeUserRejected, Message: "user rejected the request"}
	}
	return ed25519.Sign(w.priv, msg), nil
}

// Disconnect implements Disconnecter. Signing requires a new Connect afterwards.
func (w *LocalWallet) Disconnect(context.Context) error {
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()
	return nil
}

// Connected reports whether the wallet has an approved connection.
func (w *LocalWallet) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}
