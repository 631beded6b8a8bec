package kms

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempKeystore(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "keys", "vext.keystore")
}

func TestLocalKMS_NewCreatesKeystore(t *testing.T) {
	path := tempKeystore(t)

	k, err := NewLocalKMS(path)
	if err != nil {
		t.Fatalf("NewLocalKMS: %v", err)
	}
	if k.ActiveVersion() != 1 {
		t.Errorf("expected active version 1, got %d", k.ActiveVersion())
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("keystore file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("keystore permissions = %o, want 0600", perm)
	}
}

func TestLocalKMS_EncryptDecrypt(t *testing.T) {
	k, err := NewLocalKMS(tempKeystore(t))
	if err != nil {
		t.Fatalf("NewLocalKMS: %v", err)
	}

	ct, err := k.Encrypt("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ct[:3] != "v1:" {
		t.Errorf("ciphertext prefix = %q, want v1:", ct[:3])
	}
	pt, err := k.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if pt != "JBSWY3DPEHPK3PXP" {
		t.Errorf("round-trip failed: got %q", pt)
	}

	if ct, _ := k.Encrypt(""); ct != "" {
		t.Errorf("expected empty ciphertext for empty plaintext, got %q", ct)
	}
	if _, err := k.Decrypt("v9:AAAA"); err == nil {
		t.Error("expected error for unknown key version")
	}
	if _, err := k.Decrypt("garbage"); err == nil {
		t.Error("expected error for missing version prefix")
	}
}

func TestLocalKMS_DeviceKeyStableAcrossReloadAndRotation(t *testing.T) {
	path := tempKeystore(t)
	k, err := NewLocalKMS(path)
	if err != nil {
		t.Fatalf("NewLocalKMS: %v", err)
	}
	before, err := k.DeviceKey("device-1")
	if err != nil {
		t.Fatalf("DeviceKey: %v", err)
	}

	if v, err := k.Rotate(); err != nil || v != 2 {
		t.Fatalf("Rotate = %d, %v", v, err)
	}

	reloaded, err := NewLocalKMS(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.ActiveVersion() != 2 {
		t.Errorf("reloaded active version = %d, want 2", reloaded.ActiveVersion())
	}
	after, err := reloaded.DeviceKey("device-1")
	if err != nil {
		t.Fatalf("DeviceKey after reload: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Error("device key changed across rotation and reload")
	}
}

func TestLocalKMS_DerivedKeysAreSeparated(t *testing.T) {
	k, err := NewLocalKMS(tempKeystore(t))
	if err != nil {
		t.Fatalf("NewLocalKMS: %v", err)
	}
	a, _ := k.DeviceKey("device-1")
	b, _ := k.DeviceKey("device-2")
	c, _ := k.DeriveKey("wallet", "device-1")
	if bytes.Equal(a, b) || bytes.Equal(a, c) {
		t.Error("derived keys must differ per id and purpose")
	}
	if _, err := k.DeviceKey(""); err == nil {
		t.Error("expected error for empty device id")
	}

	other, err := NewLocalKMS(tempKeystore(t))
	if err != nil {
		t.Fatalf("NewLocalKMS: %v", err)
	}
	d, _ := other.DeviceKey("device-1")
	if bytes.Equal(a, d) {
		t.Error("distinct keystores must derive distinct keys")
	}
}

func TestLocalKMS_SecretsSurviveRotation(t *testing.T) {
	path := tempKeystore(t)
	k, err := NewLocalKMS(path)
	if err != nil {
		t.Fatalf("NewLocalKMS: %v", err)
	}
	if err := k.SealSecret("totp:alice", "JBSWY3DPEHPK3PXP"); err != nil {
		t.Fatalf("SealSecret: %v", err)
	}
	if _, err := k.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	reloaded, err := NewLocalKMS(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := reloaded.OpenSecret("totp:alice")
	if err != nil {
		t.Fatalf("OpenSecret: %v", err)
	}
	if got != "JBSWY3DPEHPK3PXP" {
		t.Errorf("secret = %q", got)
	}
	if names := reloaded.Secrets(); len(names) != 1 || names[0] != "totp:alice" {
		t.Errorf("Secrets() = %v", names)
	}
	if _, err := reloaded.OpenSecret("missing"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestLocalKMS_CorruptKeystore(t *testing.T) {
	path := tempKeystore(t)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"active_version":3,"keys":{}}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLocalKMS(path); err == nil {
		t.Fatal("expected error for missing active key")
	}
}
