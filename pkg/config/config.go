// Package config loads vext configuration from an optional YAML file and
// VEXT_* environment variables. Precedence is defaults, then file, then env.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/jathongeovanni-coder/vext-vault/pkg/artifacts"
	"github.com/jathongeovanni-coder/vext-vault/pkg/ceremony"
	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
)

// Signing modes.
const (
	SigningIdentity = "identity"
	SigningDevice   = "device"
)

// Second factor modes.
const (
	FactorDelay  = "delay"
	FactorTOTP   = "totp"
	FactorPhrase = "phrase"
)

// Config holds runtime configuration.
type Config struct {
	LogLevel  string `yaml:"log_level" env:"VEXT_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"VEXT_LOG_FORMAT"`

	Hold      HoldConfig      `yaml:"hold"`
	Factor    FactorConfig    `yaml:"factor"`
	Signing   SigningConfig   `yaml:"signing"`
	Ceremony  CeremonyConfig  `yaml:"ceremony"`
	Market    MarketConfig    `yaml:"market"`
	Checkout  CheckoutConfig  `yaml:"checkout"`
	Nonce     NonceConfig     `yaml:"nonce"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Keystore  KeystoreConfig  `yaml:"keystore"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// HoldConfig controls the gesture ramp.
type HoldConfig struct {
	TickInterval time.Duration `yaml:"tick_interval" env:"VEXT_HOLD_TICK"`
}

// FactorConfig selects the second factor.
type FactorConfig struct {
	Mode        string        `yaml:"mode" env:"VEXT_FACTOR_MODE"`
	VerifyDelay time.Duration `yaml:"verify_delay" env:"VEXT_VERIFY_DELAY"`
	TOTPSecret  string        `yaml:"totp_secret" env:"VEXT_TOTP_SECRET_NAME"` // keystore secret name
}

// SigningConfig selects who signs attestations.
type SigningConfig struct {
	Mode string `yaml:"mode" env:"VEXT_SIGNING_MODE"` // identity | device
}

// CeremonyConfig mirrors ceremony.Policy.
type CeremonyConfig struct {
	MinHoldMs            int64  `yaml:"min_hold_ms" env:"VEXT_CEREMONY_MIN_HOLD_MS"`
	RequireSecondFactor  bool   `yaml:"require_second_factor" env:"VEXT_CEREMONY_REQUIRE_2FA"`
	RequireIdentityTrust bool   `yaml:"require_identity_trust" env:"VEXT_CEREMONY_REQUIRE_IDENTITY"`
	Domain               string `yaml:"domain" env:"VEXT_CEREMONY_DOMAIN"`
	Rule                 string `yaml:"rule" env:"VEXT_CEREMONY_RULE"`
}

// MarketConfig controls the spot price feed.
type MarketConfig struct {
	BaseURL   string        `yaml:"base_url" env:"VEXT_PRICE_URL"`
	Interval  time.Duration `yaml:"interval" env:"VEXT_PRICE_INTERVAL"`
	Symbols   []string      `yaml:"symbols" env:"VEXT_PRICE_SYMBOLS" envSeparator:","`
	RateLimit float64       `yaml:"rate_limit" env:"VEXT_PRICE_RATE"` // requests per second
	Timeout   time.Duration `yaml:"timeout" env:"VEXT_PRICE_TIMEOUT"`
}

// CheckoutConfig describes the payment being authorized.
type CheckoutConfig struct {
	Merchant  string `yaml:"merchant" env:"VEXT_MERCHANT"`
	USDAmount string `yaml:"usd_amount" env:"VEXT_USD_AMOUNT"`
	Asset     string `yaml:"asset" env:"VEXT_ASSET"`
}

// NonceConfig selects the replay registry. An empty RedisAddr keeps nonces in memory.
type NonceConfig struct {
	RedisAddr     string        `yaml:"redis_addr" env:"VEXT_REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"VEXT_REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"VEXT_REDIS_DB"`
	TTL           time.Duration `yaml:"ttl" env:"VEXT_NONCE_TTL"`
}

// ArchiveConfig controls durable mirrors of the audit log.
type ArchiveConfig struct {
	LogFile string `yaml:"log_file" env:"VEXT_LOG_FILE"`     // JSONL mirror
	Driver  string `yaml:"driver" env:"VEXT_ARCHIVE_DRIVER"` // "", postgres, sqlite
	DSN     string `yaml:"dsn" env:"VEXT_ARCHIVE_DSN"`
}

// ArtifactsConfig selects where export bundles go.
type ArtifactsConfig struct {
	Kind     string `yaml:"kind" env:"VEXT_ARTIFACTS_KIND"` // fs | s3 | gcs
	Dir      string `yaml:"dir" env:"VEXT_ARTIFACTS_DIR"`
	Bucket   string `yaml:"bucket" env:"VEXT_ARTIFACTS_BUCKET"`
	Prefix   string `yaml:"prefix" env:"VEXT_ARTIFACTS_PREFIX"`
	Region   string `yaml:"region" env:"VEXT_ARTIFACTS_REGION"`
	Endpoint string `yaml:"endpoint" env:"VEXT_ARTIFACTS_ENDPOINT"`
}

// KeystoreConfig locates device key material.
type KeystoreConfig struct {
	Path     string `yaml:"path" env:"VEXT_KEYSTORE"`
	DeviceID string `yaml:"device_id" env:"VEXT_DEVICE_ID"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" env:"VEXT_OTEL_ENABLED"`
	Endpoint    string  `yaml:"endpoint" env:"VEXT_OTEL_ENDPOINT"`
	Insecure    bool    `yaml:"insecure" env:"VEXT_OTEL_INSECURE"`
	SampleRate  float64 `yaml:"sample_rate" env:"VEXT_OTEL_SAMPLE_RATE"`
	Environment string  `yaml:"environment" env:"VEXT_ENV"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		LogLevel:  "INFO",
		LogFormat: "text",
		Hold:      HoldConfig{TickInterval: 15 * time.Millisecond},
		Factor: FactorConfig{
			Mode:        FactorDelay,
			VerifyDelay: 800 * time.Millisecond,
			TOTPSecret:  "totp:default",
		},
		Signing: SigningConfig{Mode: SigningIdentity},
		Ceremony: CeremonyConfig{
			MinHoldMs:           1000,
			RequireSecondFactor: true,
			Domain:              ceremony.DefaultDomain,
		},
		Market: MarketConfig{
			BaseURL:   "https://api.coinbase.com",
			Interval:  30 * time.Second,
			Symbols:   []string{"BTC", "ETH", "SOL"},
			RateLimit: 5,
			Timeout:   5 * time.Second,
		},
		Checkout: CheckoutConfig{
			Merchant:  "VEXT STORE",
			USDAmount: "50.00",
			Asset:     string(contracts.DefaultAsset),
		},
		Nonce:     NonceConfig{TTL: 24 * time.Hour},
		Artifacts: ArtifactsConfig{Kind: string(artifacts.KindFS), Dir: home + "/.vext/artifacts"},
		Keystore:  KeystoreConfig{Path: home + "/.vext/keystore.json", DeviceID: "default"},
		Telemetry: TelemetryConfig{Endpoint: "localhost:4317", SampleRate: 1.0, Environment: "development"},
	}
}

// Load builds configuration from defaults and the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile builds configuration from defaults, the YAML file at path (if
// non-empty) and the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize folds case-insensitive enum values to their canonical spelling.
func (c *Config) normalize() {
	c.Archive.Driver = strings.ToLower(strings.TrimSpace(c.Archive.Driver))
}

// NominalHold is the duration of a full hold at the configured tick interval.
func (c *Config) NominalHold() time.Duration {
	return time.Duration(contracts.HoldSteps) * c.Hold.TickInterval
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Hold.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("hold.tick_interval must be positive"))
	} else if nominal := c.NominalHold(); nominal.Milliseconds() < c.Ceremony.MinHoldMs {
		errs = append(errs, fmt.Errorf("hold.tick_interval %s gives a %s hold, below ceremony.min_hold_ms %d",
			c.Hold.TickInterval, nominal, c.Ceremony.MinHoldMs))
	}
	switch c.Signing.Mode {
	case SigningIdentity, SigningDevice:
	default:
		errs = append(errs, fmt.Errorf("signing.mode %q: want %s or %s", c.Signing.Mode, SigningIdentity, SigningDevice))
	}
	switch c.Factor.Mode {
	case FactorDelay, FactorTOTP, FactorPhrase:
	default:
		errs = append(errs, fmt.Errorf("factor.mode %q: want delay, totp or phrase", c.Factor.Mode))
	}
	if _, err := contracts.ParseAsset(c.Checkout.Asset); err != nil {
		errs = append(errs, fmt.Errorf("checkout.asset: %w", err))
	}
	for _, s := range c.Market.Symbols {
		if _, err := contracts.ParseAsset(s); err != nil {
			errs = append(errs, fmt.Errorf("market.symbols: %w", err))
		}
	}
	if c.Market.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("market.rate_limit must be positive"))
	}
	switch c.Archive.Driver {
	case "", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("archive.driver %q: want postgres or sqlite", c.Archive.Driver))
	}
	if c.Archive.Driver != "" && c.Archive.DSN == "" {
		errs = append(errs, fmt.Errorf("archive.dsn is required with driver %q", c.Archive.Driver))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

// Policy returns the ceremony policy described by c.
func (c *Config) Policy() ceremony.Policy {
	return ceremony.Policy{
		MinHoldMs:            c.Ceremony.MinHoldMs,
		RequireSecondFactor:  c.Ceremony.RequireSecondFactor,
		RequireIdentityTrust: c.Ceremony.RequireIdentityTrust,
		DomainSeparation:     c.Ceremony.Domain,
		Rule:                 c.Ceremony.Rule,
	}
}

// ArtifactStore returns the artifacts configuration for NewStore.
func (c *Config) ArtifactStore() artifacts.Config {
	return artifacts.Config{
		Kind: artifacts.Kind(c.Artifacts.Kind),
		Dir:  c.Artifacts.Dir,
		S3: artifacts.S3Config{
			Bucket:   c.Artifacts.Bucket,
			Region:   c.Artifacts.Region,
			Endpoint: c.Artifacts.Endpoint,
			Prefix:   c.Artifacts.Prefix,
		},
		GCS: artifacts.GCSConfig{
			Bucket: c.Artifacts.Bucket,
			Prefix: c.Artifacts.Prefix,
		},
	}
}
