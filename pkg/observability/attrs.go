package observability

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
)

// Attribute keys shared by vault spans and metrics.
const (
	KeyHold       = attribute.Key("vext.hold")
	KeyFactor     = attribute.Key("vext.factor")
	KeyAsset      = attribute.Key("vext.asset")
	KeyTrustClass = attribute.Key("vext.trust_class")
)

// HoldOperation returns attributes for a hold gesture.
func HoldOperation(kind contracts.HoldKind) []attribute.KeyValue {
	return []attribute.KeyValue{KeyHold.String(string(kind))}
}

// FactorOperation returns attributes for a second-factor check.
func FactorOperation(name string) []attribute.KeyValue {
	return []attribute.KeyValue{KeyFactor.String(name)}
}

// AttestationOperation returns attributes for assembling a record.
func AttestationOperation(asset contracts.Asset, class contracts.TrustClass) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyAsset.String(string(asset)),
		KeyTrustClass.String(string(class)),
	}
}
