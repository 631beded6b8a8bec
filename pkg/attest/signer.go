package attest

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"

	"github.com/jathongeovanni-coder/vext-vault/pkg/bridge"
	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
)

// Signer produces the signature over a canonical message and names the key
// that verifies it.
type Signer interface {
	TrustClass() contracts.TrustClass
	Sign(ctx context.Context, c Claims, msg []byte) (sig []byte, signerKey string, err error)
}

// BridgeSigner signs with the user's linked identity through the bridge. The
// identity handle is the hex public key and therefore the signer key.
type BridgeSigner struct {
	adapter *bridge.Adapter
}

// NewBridgeSigner signs through adapter.
func NewBridgeSigner(adapter *bridge.Adapter) *BridgeSigner {
	return &BridgeSigner{adapter: adapter}
}

func (s *BridgeSigner) TrustClass() contracts.TrustClass { return contracts.TrustClassIdentity }

func (s *BridgeSigner) Sign(ctx context.Context, c Claims, msg []byte) ([]byte, string, error) {
	sig, err := s.adapter.SignMessage(ctx, msg)
	if err != nil {
		return nil, "", err
	}
	return sig, c.IdentityHandle, nil
}

// DeviceSigner signs with a locally held device key. Its attestations prove
// that this device observed the vectors, not who the user is.
type DeviceSigner struct {
	priv ed25519.PrivateKey
	pub  string
}

// NewDeviceSigner wraps a device key.
func NewDeviceSigner(priv ed25519.PrivateKey) *DeviceSigner {
	return &DeviceSigner{
		priv: priv,
		pub:  hex.EncodeToString(priv.Public().(ed25519.PublicKey)),
	}
}

func (s *DeviceSigner) TrustClass() contracts.TrustClass { return contracts.TrustClassDevice }

// PublicKey returns the hex device public key.
func (s *DeviceSigner) PublicKey() string { return s.pub }

func (s *DeviceSigner) Sign(_ context.Context, _ Claims, msg []byte) ([]byte, string, error) {
	return ed25519.Sign(s.priv, msg), s.pub, nil
}
