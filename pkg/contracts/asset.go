package contracts

import (
	"fmt"
	"strings"
)

// Asset is a supported instrument symbol.
type Asset string

const (
	AssetBTC Asset = "BTC"
	AssetETH Asset = "ETH"
	AssetSOL Asset = "SOL"
)

// DefaultAsset is selected when a session starts.
const DefaultAsset = AssetSOL

// Assets lists the supported instruments in display order.
func Assets() []Asset {
	return []Asset{AssetBTC, AssetETH, AssetSOL}
}

// ParseAsset resolves a symbol case-insensitively.
func ParseAsset(s string) (Asset, error) {
	a := Asset(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unsupported asset %q", s)
	}
	return a, nil
}

// Valid reports whether a is one of the supported instruments.
func (a Asset) Valid() bool {
	switch a {
	case AssetBTC, AssetETH, AssetSOL:
		return true
	}
	return false
}

func (a Asset) String() string { return string(a) }
