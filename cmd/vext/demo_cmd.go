package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jathongeovanni-coder/vext-vault/pkg/attest"
	"github.com/jathongeovanni-coder/vext-vault/pkg/bridge"
	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
	"github.com/jathongeovanni-coder/vext-vault/pkg/market"
	"github.com/jathongeovanni-coder/vext-vault/pkg/session"
	"github.com/jathongeovanni-coder/vext-vault/pkg/vector"
)

// demoReport is the --json output of `vext demo`.
type demoReport struct {
	SessionID    string                        `json:"session_id"`
	Merchant     string                        `json:"merchant"`
	USDAmount    string                        `json:"usd_amount"`
	Asset        contracts.Asset               `json:"asset"`
	Price        string                        `json:"price"`
	Quote        string                        `json:"quote"`
	Head         string                        `json:"head"`
	Attestations []contracts.IntentAttestation `json:"attestations"`
	Tokens       []string                      `json:"tokens,omitempty"`
}

// runDemoCmd implements `vext demo`.
//
// Walks one session through all three vectors with the bundled local wallet
// and produces --count attestations. Holds run on the real gesture clock.
//
// Exit codes:
//
//	0 = all attestations produced
//	1 = the ceremony failed
//	2 = runtime error
func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		assetFlag  string
		response   string
		count      int
		offline    bool
		withToken  bool
		jsonOutput bool
	)

	cmd.StringVar(&configPath, "config", "", "Path to YAML config (env VEXT_* overrides)")
	cmd.StringVar(&assetFlag, "asset", "", "Asset to authorize (BTC, ETH, SOL); defaults to checkout.asset")
	cmd.StringVar(&response, "response", "", "Second factor response (TOTP code or recovery phrase)")
	cmd.IntVar(&count, "count", 1, "Number of attestations to produce")
	cmd.BoolVar(&offline, "offline", false, "Skip the spot price fetch")
	cmd.BoolVar(&withToken, "token", false, "Issue a device-signed JWT for each attestation")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if count < 1 {
		_, _ = fmt.Fprintln(stderr, "Error: --count must be at least 1")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, configPath, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close(context.Background())

	assetName := rt.cfg.Checkout.Asset
	if assetFlag != "" {
		assetName = assetFlag
	}
	asset, err := contracts.ParseAsset(assetName)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	walletKey, err := rt.keys.DeriveKey(walletPurpose, rt.cfg.Keystore.DeviceID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	wallet := bridge.NewLocalWallet(walletKey, func(ctx context.Context, purpose string, _ []byte) bool {
		rt.logger.InfoContext(ctx, "wallet request approved", "purpose", purpose)
		return true
	})
	adapter := bridge.NewAdapter(bridge.Static(wallet)).WithLogger(rt.logger.With("component", "bridge"))

	signer, err := rt.signer(adapter)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	asm, err := rt.assembler(ctx, signer)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	verifier, err := rt.secondFactor()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	sessionID := uuid.NewString()
	log, err := rt.auditLog(ctx, sessionID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	store := session.NewWithID(sessionID, log)

	changes := make(chan struct{}, 1)
	store.OnChange(func(session.Snapshot) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})

	if !offline {
		feed := market.NewFeed(rt.marketConfig(), store, nil).WithLogger(rt.logger.With("component", "market"))
		n := feed.Refresh(ctx)
		rt.logger.InfoContext(ctx, "prices refreshed", "fetched", n)

		pollCtx, stopPolling := context.WithCancel(ctx)
		var polling sync.WaitGroup
		polling.Add(1)
		go func() {
			defer polling.Done()
			feed.Poll(pollCtx, rt.cfg.Market.Interval)
		}()
		defer func() {
			stopPolling()
			polling.Wait()
		}()
	}

	m, err := vector.New(ctx, vector.Deps{
		Store:        store,
		Bridge:       adapter,
		Factor:       verifier,
		Assembler:    asm,
		Telemetry:    rt.telemetry,
		TickInterval: rt.cfg.Hold.TickInterval,
		Logger:       rt.logger.With("component", "vector"),
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer m.Close()

	m.SelectAsset(asset)
	if err := runCeremony(ctx, m, changes, response, count); err != nil {
		_, _ = fmt.Fprintf(stderr, "%s❌ Ceremony failed:%s %v\n", ColorRed, ColorReset, err)
		return 1
	}

	snap := m.Snapshot()
	report := demoReport{
		SessionID:    store.ID(),
		Merchant:     rt.cfg.Checkout.Merchant,
		USDAmount:    rt.cfg.Checkout.USDAmount,
		Asset:        snap.Asset,
		Price:        snap.Prices[snap.Asset],
		Quote:        market.Quote(rt.cfg.Checkout.USDAmount, snap.Prices[snap.Asset]),
		Head:         log.Head(),
		Attestations: log.Attestations(),
	}
	if withToken {
		key, err := rt.keys.DeviceKey(rt.cfg.Keystore.DeviceID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		for _, a := range report.Attestations {
			tok, err := attest.IssueToken(a, key, 10*time.Minute)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
			report.Tokens = append(report.Tokens, tok)
		}
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "%s✅ PAYMENT AUTHORIZED%s\n", ColorBold+ColorGreen, ColorReset)
	_, _ = fmt.Fprintf(stdout, "Merchant: %s\n", report.Merchant)
	_, _ = fmt.Fprintf(stdout, "Amount:   $%s = %s %s (spot %s)\n", report.USDAmount, report.Quote, report.Asset, report.Price)
	_, _ = fmt.Fprintf(stdout, "Identity: %s\n", bridge.ShortHandle(snap.IdentityHandle))
	for i, a := range report.Attestations {
		_, _ = fmt.Fprintf(stdout, "  #%d nonce=%s trust=%s hold=%dms\n", i+1, a.Nonce, a.TrustClass, a.HoldDurationMs)
		if i < len(report.Tokens) {
			_, _ = fmt.Fprintf(stdout, "     token=%s\n", report.Tokens[i])
		}
	}
	_, _ = fmt.Fprintf(stdout, "Chain head: %s\n", report.Head)
	return 0
}

// runCeremony drives m through connect, verify, reveal and count sign holds.
func runCeremony(ctx context.Context, m *vector.Machine, changes <-chan struct{}, response string, count int) error {
	if err := m.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := m.Verify(ctx, response); err != nil {
		return fmt.Errorf("second factor: %w", err)
	}
	if !m.Snapshot().Verified {
		return errors.New("second factor: not verified")
	}

	timeout := 4*m.NominalHold() + 10*time.Second
	if err := holdUntil(ctx, m, changes, contracts.HoldReveal, timeout, func(s session.Snapshot) bool {
		return s.Revealed
	}); err != nil {
		return fmt.Errorf("reveal: %w", err)
	}
	for i := 0; i < count; i++ {
		want := m.Snapshot().LogLength + 1
		if err := holdUntil(ctx, m, changes, contracts.HoldSign, timeout, func(s session.Snapshot) bool {
			return s.LogLength >= want && s.Attested
		}); err != nil {
			return fmt.Errorf("sign %d: %w", i+1, err)
		}
	}
	return nil
}

// holdUntil presses kind and waits for done, a surfaced error or timeout.
func holdUntil(ctx context.Context, m *vector.Machine, changes <-chan struct{}, kind contracts.HoldKind, timeout time.Duration, done func(session.Snapshot) bool) error {
	if !m.StartHold(kind) {
		return fmt.Errorf("hold refused in phase %s", m.Phase())
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s := m.Snapshot()
		if done(s) {
			return nil
		}
		if s.LastError != "" && !s.Holding[kind] {
			return errors.New(s.LastError)
		}
		select {
		case <-ctx.Done():
			m.ReleaseHold(kind)
			return ctx.Err()
		case <-deadline.C:
			m.ReleaseHold(kind)
			return errors.New("timed out")
		case <-changes:
		}
	}
}
