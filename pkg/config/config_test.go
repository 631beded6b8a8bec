package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jathongeovanni-coder/vext-vault/pkg/artifacts"
	"github.com/jathongeovanni-coder/vext-vault/pkg/ceremony"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Millisecond, cfg.Hold.TickInterval)
	assert.Equal(t, 800*time.Millisecond, cfg.Factor.VerifyDelay)
	assert.Equal(t, SigningIdentity, cfg.Signing.Mode)
	assert.Equal(t, FactorDelay, cfg.Factor.Mode)
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, cfg.Market.Symbols)
	assert.Equal(t, "SOL", cfg.Checkout.Asset)
	assert.Equal(t, ceremony.DefaultDomain, cfg.Policy().DomainSeparation)
	assert.Equal(t, artifacts.KindFS, cfg.ArtifactStore().Kind)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VEXT_HOLD_TICK", "10ms")
	t.Setenv("VEXT_SIGNING_MODE", "device")
	t.Setenv("VEXT_PRICE_SYMBOLS", "ETH,SOL")
	t.Setenv("VEXT_CEREMONY_RULE", `asset != "BTC"`)
	t.Setenv("VEXT_USD_AMOUNT", "12.50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, cfg.Hold.TickInterval)
	assert.Equal(t, SigningDevice, cfg.Signing.Mode)
	assert.Equal(t, []string{"ETH", "SOL"}, cfg.Market.Symbols)
	assert.Equal(t, `asset != "BTC"`, cfg.Policy().Rule)
	assert.Equal(t, "12.50", cfg.Checkout.USDAmount)
}

func TestLoadFile_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vext.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
hold:
  tick_interval: 20ms
ceremony:
  min_hold_ms: 1500
  require_identity_trust: true
artifacts:
  kind: s3
  bucket: receipts
  region: eu-west-1
checkout:
  merchant: ACME
`), 0600))
	t.Setenv("VEXT_ARTIFACTS_BUCKET", "override")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 20*time.Millisecond, cfg.Hold.TickInterval)
	assert.Equal(t, int64(1500), cfg.Policy().MinHoldMs)
	assert.True(t, cfg.Policy().RequireIdentityTrust)
	assert.True(t, cfg.Policy().RequireSecondFactor, "unset keys keep defaults")
	assert.Equal(t, "ACME", cfg.Checkout.Merchant)

	store := cfg.ArtifactStore()
	assert.Equal(t, artifacts.KindS3, store.Kind)
	assert.Equal(t, "override", store.S3.Bucket)
	assert.Equal(t, "eu-west-1", store.S3.Region)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("hold: [unclosed"), 0600))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"signing mode": func(c *Config) { c.Signing.Mode = "hsm" },
		"factor mode":  func(c *Config) { c.Factor.Mode = "sms" },
		"tick":         func(c *Config) { c.Hold.TickInterval = 0 },
		"short hold":   func(c *Config) { c.Hold.TickInterval = 5 * time.Millisecond },
		"asset":        func(c *Config) { c.Checkout.Asset = "DOGE" },
		"symbols":      func(c *Config) { c.Market.Symbols = []string{"BTC", "XRP"} },
		"rate":         func(c *Config) { c.Market.RateLimit = 0 },
		"driver":       func(c *Config) { c.Archive.Driver = "mysql" },
		"dsn missing":  func(c *Config) { c.Archive.Driver = "sqlite" },
		"sample rate":  func(c *Config) { c.Telemetry.SampleRate = 2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoad_HoldBelowCeremonyMinimum(t *testing.T) {
	t.Setenv("VEXT_HOLD_TICK", "5ms")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_hold_ms")

	t.Setenv("VEXT_CEREMONY_MIN_HOLD_MS", "500")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.NominalHold())
}

func TestLoad_ArchiveDriverIsCaseInsensitive(t *testing.T) {
	t.Setenv("VEXT_ARCHIVE_DRIVER", " Postgres ")
	t.Setenv("VEXT_ARCHIVE_DSN", "postgres://localhost/vext")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Archive.Driver)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("VEXT_HOLD_TICK", "soon")
	_, err := Load()
	assert.Error(t, err)
}
