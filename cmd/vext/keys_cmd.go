package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"io"

	"github.com/jathongeovanni-coder/vext-vault/pkg/factor"
)

// runKeysCmd implements `vext keys <show|rotate|totp>`.
func runKeysCmd(args []string, stdout, stderr io.Writer) int {
	sub := args[0]
	cmd := flag.NewFlagSet("keys "+sub, flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		account    string
	)
	cmd.StringVar(&configPath, "config", "", "Path to YAML config (env VEXT_* overrides)")
	cmd.StringVar(&account, "account", "", "TOTP account name (totp only)")

	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx, configPath, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close(ctx)

	switch sub {
	case "show":
		device, err := rt.keys.DeviceKey(rt.cfg.Keystore.DeviceID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		wallet, err := rt.keys.DeriveKey(walletPurpose, rt.cfg.Keystore.DeviceID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "Keystore:       %s\n", rt.cfg.Keystore.Path)
		_, _ = fmt.Fprintf(stdout, "Active version: v%d\n", rt.keys.ActiveVersion())
		_, _ = fmt.Fprintf(stdout, "Device key:     %s\n", publicHex(device))
		_, _ = fmt.Fprintf(stdout, "Wallet key:     %s\n", publicHex(wallet))
		for _, name := range rt.keys.Secrets() {
			_, _ = fmt.Fprintf(stdout, "Secret:         %s\n", name)
		}
		return 0

	case "rotate":
		v, err := rt.keys.Rotate()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: rotation failed: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "%s✅ Rotated keystore to v%d%s\n", ColorGreen, v, ColorReset)
		return 0

	case "totp":
		if account == "" {
			account = rt.cfg.Keystore.DeviceID
		}
		key, err := factor.Enroll("VEXT", account)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if err := rt.keys.SealSecret(rt.cfg.Factor.TOTPSecret, key.Secret()); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "Enrolled %s as %s\n", account, rt.cfg.Factor.TOTPSecret)
		_, _ = fmt.Fprintf(stdout, "Provisioning URI: %s\n", key.URL())
		return 0

	default:
		_, _ = fmt.Fprintf(stderr, "Unknown keys subcommand: %s\n", sub)
		return 2
	}
}

func publicHex(k ed25519.PrivateKey) string {
	return hex.EncodeToString(k.Public().(ed25519.PublicKey))
}
