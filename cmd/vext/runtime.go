package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/jathongeovanni-coder/vext-vault/pkg/attest"
	"github.com/jathongeovanni-coder/vext-vault/pkg/auditlog"
	"github.com/jathongeovanni-coder/vext-vault/pkg/bridge"
	"github.com/jathongeovanni-coder/vext-vault/pkg/ceremony"
	"github.com/jathongeovanni-coder/vext-vault/pkg/config"
	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
	"github.com/jathongeovanni-coder/vext-vault/pkg/factor"
	"github.com/jathongeovanni-coder/vext-vault/pkg/kms"
	"github.com/jathongeovanni-coder/vext-vault/pkg/market"
	"github.com/jathongeovanni-coder/vext-vault/pkg/nonce"
	"github.com/jathongeovanni-coder/vext-vault/pkg/observability"

	_ "github.com/lib/pq"  // Postgres Driver
	_ "modernc.org/sqlite" // SQLite Driver
)

// walletPurpose derives the key of the bundled local wallet.
const walletPurpose = "wallet"

// runtime holds the collaborators shared by subcommands.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	telemetry *observability.Provider
	keys      *kms.LocalKMS
	closers   []func() error
}

func newRuntime(ctx context.Context, configPath string, logOut io.Writer) (*runtime, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, logOut)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	otelCfg := observability.DefaultConfig()
	otelCfg.Enabled = cfg.Telemetry.Enabled
	otelCfg.OTLPEndpoint = cfg.Telemetry.Endpoint
	otelCfg.Insecure = cfg.Telemetry.Insecure
	otelCfg.SampleRate = cfg.Telemetry.SampleRate
	otelCfg.Environment = cfg.Telemetry.Environment
	tel, err := observability.New(ctx, otelCfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	keys, err := kms.NewLocalKMS(cfg.Keystore.Path)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, telemetry: tel, keys: keys}, nil
}

func (r *runtime) Close(ctx context.Context) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.WarnContext(ctx, "close failed", "error", err)
		}
	}
	_ = r.telemetry.Shutdown(ctx)
}

// archiveDriver maps the configured archive driver to a database/sql driver name and dialect.
func archiveDriver(name string) (string, auditlog.Dialect, error) {
	switch name {
	case "postgres":
		return "postgres", auditlog.DialectPostgres, nil
	case "sqlite":
		return "sqlite", auditlog.DialectSQLite, nil
	default:
		return "", "", fmt.Errorf("unsupported archive driver %q", name)
	}
}

func (r *runtime) openArchive(ctx context.Context, sessionID string) (*auditlog.SQLSink, error) {
	driver, dialect, err := archiveDriver(r.cfg.Archive.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, r.cfg.Archive.DSN)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	r.closers = append(r.closers, db.Close)
	sink := auditlog.NewSQLSink(db, dialect, sessionID)
	if err := sink.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

// auditLog builds the session log with the configured file and SQL mirrors.
func (r *runtime) auditLog(ctx context.Context, sessionID string) (*auditlog.Log, error) {
	var sinks []auditlog.Sink
	if r.cfg.Archive.LogFile != "" {
		fs, err := auditlog.NewFileSink(r.cfg.Archive.LogFile)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fs)
	}
	if r.cfg.Archive.Driver != "" {
		sink, err := r.openArchive(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return auditlog.New(sinks...).WithLogger(r.logger.With("component", "auditlog")), nil
}

func (r *runtime) registry(ctx context.Context) (nonce.Registry, error) {
	if r.cfg.Nonce.RedisAddr == "" {
		return nonce.NewMemoryRegistry(r.cfg.Nonce.TTL), nil
	}
	reg := nonce.NewRedisRegistry(r.cfg.Nonce.RedisAddr, r.cfg.Nonce.RedisPassword, r.cfg.Nonce.RedisDB, r.cfg.Nonce.TTL)
	r.closers = append(r.closers, reg.Close)
	if err := reg.Ping(ctx); err != nil {
		return nil, fmt.Errorf("nonce registry: %w", err)
	}
	return reg, nil
}

func (r *runtime) secondFactor() (factor.Verifier, error) {
	switch r.cfg.Factor.Mode {
	case config.FactorTOTP:
		secret, err := r.keys.OpenSecret(r.cfg.Factor.TOTPSecret)
		if err != nil {
			return nil, fmt.Errorf("totp secret %q (run `vext keys totp` first): %w", r.cfg.Factor.TOTPSecret, err)
		}
		return factor.NewTOTP(secret), nil
	case config.FactorPhrase:
		return factor.Phrase{}, nil
	default:
		return factor.NewDelay(r.cfg.Factor.VerifyDelay), nil
	}
}

func (r *runtime) signer(adapter *bridge.Adapter) (attest.Signer, error) {
	if r.cfg.Signing.Mode == config.SigningDevice {
		key, err := r.keys.DeviceKey(r.cfg.Keystore.DeviceID)
		if err != nil {
			return nil, err
		}
		return attest.NewDeviceSigner(key), nil
	}
	return attest.NewBridgeSigner(adapter), nil
}

func (r *runtime) assembler(ctx context.Context, signer attest.Signer) (*attest.Assembler, error) {
	gate, err := ceremony.Compile(r.cfg.Policy())
	if err != nil {
		return nil, err
	}
	reg, err := r.registry(ctx)
	if err != nil {
		return nil, err
	}
	return attest.NewAssembler(signer, gate,
		attest.WithRegistry(reg),
		attest.WithLogger(r.logger.With("component", "attest")),
	), nil
}

func (r *runtime) marketConfig() market.Config {
	symbols := make([]contracts.Asset, 0, len(r.cfg.Market.Symbols))
	for _, s := range r.cfg.Market.Symbols {
		// Validated by config.Load.
		a, _ := contracts.ParseAsset(s)
		symbols = append(symbols, a)
	}
	return market.Config{
		BaseURL:   r.cfg.Market.BaseURL,
		Symbols:   symbols,
		RateLimit: r.cfg.Market.RateLimit,
		Timeout:   r.cfg.Market.Timeout,
	}
}
