// Package kms keeps the device's signing material at rest.
//
// The keystore file holds versioned AES-256-GCM wrapping keys, a master seed
// wrapped under the active key, and named secrets (such as TOTP enrollment
// secrets) wrapped the same way. Signing keys are never stored: they are
// derived from the master seed with HKDF, one per purpose and identifier.
// Rotation generates a new wrapping key and re-wraps everything; derived keys
// stay stable across rotations.
package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// ErrSecretNotFound is returned by OpenSecret for unknown names.
var ErrSecretNotFound = errors.New("kms: secret not found")

const hkdfSalt = "vext:kms:v1"

// Keystore is the on-disk JSON format.
type Keystore struct {
	ActiveVersion int               `json:"active_version"`
	Keys          map[string]string `json:"keys"`              // version -> base64 32-byte wrapping key
	Seed          string            `json:"seed"`              // "v<N>:<base64>" wrapped master seed
	Secrets       map[string]string `json:"secrets,omitempty"` // name -> "v<N>:<base64>"
}

// LocalKMS is a file-backed keystore.
type LocalKMS struct {
	mu    sync.RWMutex
	store Keystore
	path  string
	keys  map[int][]byte
	seed  []byte
}

// NewLocalKMS loads the keystore at path, creating it with a fresh wrapping
// key and master seed if it does not exist.
func NewLocalKMS(path string) (*LocalKMS, error) {
	k := &LocalKMS{path: path, keys: make(map[int][]byte)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := k.initialize(); err != nil {
			return nil, err
		}
		return k, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kms: read keystore: %w", err)
	}
	if err := json.Unmarshal(data, &k.store); err != nil {
		return nil, fmt.Errorf("kms: parse keystore: %w", err)
	}
	if err := k.load(); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *LocalKMS) initialize() error {
	if err := os.MkdirAll(filepath.Dir(k.path), 0700); err != nil {
		return fmt.Errorf("kms: create dir: %w", err)
	}
	key, err := randomBytes(32)
	if err != nil {
		return err
	}
	seed, err := randomBytes(32)
	if err != nil {
		return err
	}
	k.store = Keystore{
		ActiveVersion: 1,
		Keys:          map[string]string{"1": base64.StdEncoding.EncodeToString(key)},
		Secrets:       map[string]string{},
	}
	k.keys[1] = key
	k.seed = seed
	if k.store.Seed, err = k.wrapLocked(seed); err != nil {
		return err
	}
	return k.persist()
}

func (k *LocalKMS) load() error {
	for vStr, encoded := range k.store.Keys {
		v, err := strconv.Atoi(vStr)
		if err != nil {
			return fmt.Errorf("kms: invalid version %q: %w", vStr, err)
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("kms: decode key v%d: %w", v, err)
		}
		if len(key) != 32 {
			return fmt.Errorf("kms: key v%d invalid length %d (need 32)", v, len(key))
		}
		k.keys[v] = key
	}
	if _, ok := k.keys[k.store.ActiveVersion]; !ok {
		return fmt.Errorf("kms: active version %d not in keystore", k.store.ActiveVersion)
	}
	if k.store.Secrets == nil {
		k.store.Secrets = map[string]string{}
	}
	seed, err := k.unwrapLocked(k.store.Seed)
	if err != nil {
		return fmt.Errorf("kms: unwrap seed: %w", err)
	}
	if len(seed) != 32 {
		return fmt.Errorf("kms: seed invalid length %d", len(seed))
	}
	k.seed = seed
	return nil
}

// Encrypt wraps plaintext with the active key as "v<N>:<base64(nonce+ciphertext)>".
func (k *LocalKMS) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.wrapLocked([]byte(plaintext))
}

// Decrypt reverses Encrypt for any key version still in the keystore.
func (k *LocalKMS) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	pt, err := k.unwrapLocked(ciphertext)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// SealSecret stores plaintext under name.
func (k *LocalKMS) SealSecret(name, plaintext string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	ct, err := k.wrapLocked([]byte(plaintext))
	if err != nil {
		return err
	}
	k.store.Secrets[name] = ct
	return k.persist()
}

// OpenSecret returns the secret stored under name.
func (k *LocalKMS) OpenSecret(name string) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ct, ok := k.store.Secrets[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	pt, err := k.unwrapLocked(ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Secrets lists stored secret names in sorted order.
func (k *LocalKMS) Secrets() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.store.Secrets))
	for n := range k.store.Secrets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Rotate adds a new wrapping key, makes it active and re-wraps the seed and
// all secrets under it. Old keys remain for decrypting values wrapped elsewhere.
func (k *LocalKMS) Rotate() (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	key, err := randomBytes(32)
	if err != nil {
		return 0, err
	}
	newVersion := k.store.ActiveVersion + 1

	seed, err := wrapWith(newVersion, key, k.seed)
	if err != nil {
		return 0, err
	}
	secrets := make(map[string]string, len(k.store.Secrets))
	for name, ct := range k.store.Secrets {
		pt, err := k.unwrapLocked(ct)
		if err != nil {
			return 0, fmt.Errorf("kms: unwrap secret %s: %w", name, err)
		}
		if secrets[name], err = wrapWith(newVersion, key, pt); err != nil {
			return 0, err
		}
	}

	k.store.Keys[strconv.Itoa(newVersion)] = base64.StdEncoding.EncodeToString(key)
	k.store.ActiveVersion = newVersion
	k.store.Seed = seed
	k.store.Secrets = secrets
	k.keys[newVersion] = key

	if err := k.persist(); err != nil {
		return 0, err
	}
	return newVersion, nil
}

// ActiveVersion returns the current wrapping key version.
func (k *LocalKMS) ActiveVersion() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.store.ActiveVersion
}

// DeriveKey derives the Ed25519 key for purpose and id from the master seed.
func (k *LocalKMS) DeriveKey(purpose, id string) (ed25519.PrivateKey, error) {
	if purpose == "" || id == "" {
		return nil, fmt.Errorf("kms: derive key: purpose and id are required")
	}
	k.mu.RLock()
	seed := k.seed
	k.mu.RUnlock()

	r := hkdf.New(sha256.New, seed, []byte(hkdfSalt), []byte(purpose+":"+id))
	child := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, child); err != nil {
		return nil, fmt.Errorf("kms: hkdf: %w", err)
	}
	return ed25519.NewKeyFromSeed(child), nil
}

// DeviceKey derives the device attestation key for deviceID.
func (k *LocalKMS) DeviceKey(deviceID string) (ed25519.PrivateKey, error) {
	return k.DeriveKey("device", deviceID)
}

// persist writes the keystore atomically with restricted permissions.
func (k *LocalKMS) persist() error {
	data, err := json.MarshalIndent(k.store, "", "  ")
	if err != nil {
		return fmt.Errorf("kms: marshal keystore: %w", err)
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("kms: write keystore: %w", err)
	}
	if err := os.Rename(tmp, k.path); err != nil {
		return fmt.Errorf("kms: write keystore: %w", err)
	}
	return nil
}

func (k *LocalKMS) wrapLocked(plaintext []byte) (string, error) {
	v := k.store.ActiveVersion
	return wrapWith(v, k.keys[v], plaintext)
}

func wrapWith(version int, key, plaintext []byte) (string, error) {
	ct, err := aesGCMEncrypt(key, plaintext)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("v%d:%s", version, base64.StdEncoding.EncodeToString(ct)), nil
}

func (k *LocalKMS) unwrapLocked(s string) ([]byte, error) {
	version, payload, err := parseVersioned(s)
	if err != nil {
		return nil, err
	}
	key, ok := k.keys[version]
	if !ok {
		return nil, fmt.Errorf("kms: unknown key version %d", version)
	}
	ct, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("kms: decode ciphertext: %w", err)
	}
	return aesGCMDecrypt(key, ct)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("kms: generate key: %w", err)
	}
	return b, nil
}

func aesGCMEncrypt(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("kms: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func aesGCMDecrypt(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("kms: ciphertext too short")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("kms: open: %w", err)
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: gcm: %w", err)
	}
	return gcm, nil
}

// parseVersioned splits "v<N>:<payload>" into (N, payload).
func parseVersioned(s string) (int, string, error) {
	if !strings.HasPrefix(s, "v") {
		return 0, "", fmt.Errorf("kms: missing version prefix in %q", s)
	}
	idx := strings.Index(s, ":")
	if idx < 2 {
		return 0, "", fmt.Errorf("kms: malformed versioned string %q", s)
	}
	v, err := strconv.Atoi(s[1:idx])
	if err != nil {
		return 0, "", fmt.Errorf("kms: parse version: %w", err)
	}
	return v, s[idx+1:], nil
}
