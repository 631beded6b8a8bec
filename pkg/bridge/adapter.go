// Package bridge talks to the external identity provider that links the
// user's signing identity and signs attestation messages on their behalf.
//
// The provider is injected by the host and may be absent. Adapter detects it
// before every call, classifies its failures into the bridge error taxonomy and
// never caches anything a failed call returned.
package bridge

import (
	"context"
	"log/slog"
	"reflect"
)

// Provider is the host-injected signing authority.
type Provider interface {
	// Connect runs the provider's consent flow and returns the public key of
	// the linked identity in its string form.
	Connect(ctx context.Context) (publicKey string, err error)
	// SignMessage signs msg with the linked identity. The signature encoding
	// is provider-defined.
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// Disconnecter is implemented by providers that hold a connection the host
// can drop. It is optional.
type Disconnecter interface {
	Disconnect(ctx context.Context) error
}

// Detector returns the currently installed provider, or nil.
type Detector func() Provider

// Static returns a Detector that always yields p.
func Static(p Provider) Detector {
	return func() Provider { return p }
}

// Adapter wraps a Provider with detection and error classification.
type Adapter struct {
	detect Detector
	logger *slog.Logger
}

// NewAdapter creates an adapter that looks the provider up through detect on every call.
func NewAdapter(detect Detector) *Adapter {
	if detect == nil {
		detect = Static(nil)
	}
	return &Adapter{
		detect: detect,
		logger: slog.Default().With("component", "bridge"),
	}
}

// WithLogger overrides the adapter logger.
func (a *Adapter) WithLogger(l *slog.Logger) *Adapter {
	a.logger = l
	return a
}

// Present reports whether a provider is installed.
func (a *Adapter) Present() bool {
	return a.provider() != nil
}

func (a *Adapter) provider() Provider {
	p := a.detect()
	if p == nil {
		return nil
	}
	// A typed nil pointer in the interface is not a provider.
	if v := reflect.ValueOf(p); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil
	}
	return p
}

// Connect links the user's identity and returns its handle.
func (a *Adapter) Connect(ctx context.Context) (string, error) {
	p := a.provider()
	if p == nil {
		return "", ErrProviderAbsent
	}
	handle, err := p.Connect(ctx)
	if err != nil {
		err = classifyConnect(err)
		a.logger.InfoContext(ctx, "connect failed", "error", err)
		return "", err
	}
	if handle == "" {
		return "", classifyConnect(&ProviderError{Code: -1, Message: "empty public key"})
	}
	a.logger.InfoContext(ctx, "identity linked", "handle", ShortHandle(handle))
	return handle, nil
}

// SignMessage asks the provider to sign msg.
func (a *Adapter) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	p := a.provider()
	if p == nil {
		return nil, ErrProviderAbsent
	}
	sig, err := p.SignMessage(ctx, msg)
	if err != nil {
		err = classifySign(err)
		a.logger.InfoContext(ctx, "sign failed", "error", err)
		return nil, err
	}
	if len(sig) == 0 {
		return nil, classifySign(&ProviderError{Code: -1, Message: "empty signature"})
	}
	return sig, nil
}

// Disconnect tells the provider to drop the linked identity. Providers that do
// not implement Disconnecter, and an absent provider, are a no-op.
func (a *Adapter) Disconnect(ctx context.Context) error {
	d, ok := a.provider().(Disconnecter)
	if !ok {
		return nil
	}
	if err := d.Disconnect(ctx); err != nil {
		a.logger.WarnContext(ctx, "provider disconnect failed", "error", err)
		return err
	}
	return nil
}

// ShortHandle returns the first six characters of a handle for display and logs.
func ShortHandle(h string) string {
	if len(h) <= 6 {
		return h
	}
	return h[:6]
}
