// Package auditlog holds the append-only, chronologically ordered record of
// intent attestations produced during a session.
//
// Entries are hash-chained: each entry hash covers the previous hash and the
// JCS form of the attestation, so reordering or dropping records is detectable
// by VerifyChain. Sinks mirror appended entries to durable storage.
package auditlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gowebpki/jcs"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
)

// GenesisHash is the PrevHash of the first entry.
const GenesisHash = "genesis"

var (
	// ErrDuplicateNonce is returned when an attestation reuses a nonce already in the log.
	ErrDuplicateNonce = errors.New("auditlog: duplicate nonce")
	// ErrChainBroken is returned by VerifyChain when entries do not link.
	ErrChainBroken = errors.New("auditlog: hash chain broken")
)

// Entry is an attestation plus its position in the hash chain.
type Entry struct {
	Seq         int                         `json:"seq"`
	PrevHash    string                      `json:"prev_hash"`
	Hash        string                      `json:"hash"`
	Attestation contracts.IntentAttestation `json:"attestation"`
}

// Sink receives every entry after it is committed to the in-memory log.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Log is the in-memory audit log. It never shrinks or reorders.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	nonces  map[string]struct{}
	sinks   []Sink
	logger  *slog.Logger
}

// New creates an empty log mirrored to the given sinks.
func New(sinks ...Sink) *Log {
	return &Log{
		nonces: make(map[string]struct{}),
		sinks:  sinks,
		logger: slog.Default().With("component", "auditlog"),
	}
}

// WithLogger overrides the logger used for sink failures.
func (l *Log) WithLogger(logger *slog.Logger) *Log {
	l.logger = logger
	return l
}

// Append commits a to the end of the log. Sink failures are logged and do not
// undo the in-memory append.
func (l *Log) Append(ctx context.Context, a contracts.IntentAttestation) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a.Nonce == "" {
		return Entry{}, fmt.Errorf("auditlog: empty nonce")
	}
	if _, dup := l.nonces[a.Nonce]; dup {
		return Entry{}, fmt.Errorf("%w: %s", ErrDuplicateNonce, a.Nonce)
	}

	prev := GenesisHash
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].Hash
	}
	h, err := HashEntry(prev, a)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		Seq:         len(l.entries) + 1,
		PrevHash:    prev,
		Hash:        h,
		Attestation: a,
	}
	l.entries = append(l.entries, e)
	l.nonces[a.Nonce] = struct{}{}

	for _, s := range l.sinks {
		if err := s.Write(ctx, e); err != nil {
			l.logger.WarnContext(ctx, "audit sink write failed", "seq", e.Seq, "error", err)
		}
	}
	return e, nil
}

// Entries returns a copy of all entries in insertion order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Attestations returns the logged records in insertion order.
func (l *Log) Attestations() []contracts.IntentAttestation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]contracts.IntentAttestation, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Attestation
	}
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Head returns the hash of the last entry, or GenesisHash for an empty log.
func (l *Log) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return GenesisHash
	}
	return l.entries[len(l.entries)-1].Hash
}

// HashEntry computes sha256(prev || ":" || JCS(a)) as hex.
func HashEntry(prev string, a contracts.IntentAttestation) (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("auditlog: marshal attestation: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("auditlog: canonicalize attestation: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte(":"))
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChain checks sequence numbers, hash links, and nonce uniqueness.
func VerifyChain(entries []Entry) error {
	prev := GenesisHash
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if e.Seq != i+1 {
			return fmt.Errorf("%w: entry %d has seq %d", ErrChainBroken, i+1, e.Seq)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d prev_hash mismatch", ErrChainBroken, e.Seq)
		}
		h, err := HashEntry(prev, e.Attestation)
		if err != nil {
			return err
		}
		if h != e.Hash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, e.Seq)
		}
		if _, dup := seen[e.Attestation.Nonce]; dup {
			return fmt.Errorf("%w: entry %d", ErrDuplicateNonce, e.Seq)
		}
		seen[e.Attestation.Nonce] = struct{}{}
		prev = e.Hash
	}
	return nil
}
