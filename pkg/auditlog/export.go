package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jathongeovanni-coder/vext-vault/pkg/artifacts"
)

// Bundle is the exported form of one session's audit log.
type Bundle struct {
	SessionID  string    `json:"session_id"`
	ExportedAt time.Time `json:"exported_at"`
	Head       string    `json:"head"`
	Entries    []Entry   `json:"entries"`
}

// ExportBundle verifies the chain and writes a bundle to store, returning its digest.
func ExportBundle(ctx context.Context, store artifacts.Store, sessionID string, entries []Entry, now time.Time) (string, error) {
	if err := VerifyChain(entries); err != nil {
		return "", fmt.Errorf("refusing to export: %w", err)
	}
	head := GenesisHash
	if len(entries) > 0 {
		head = entries[len(entries)-1].Hash
	}
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(Bundle{
		SessionID:  sessionID,
		ExportedAt: now.UTC(),
		Head:       head,
		Entries:    entries,
	})
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}
	digest, err := store.Store(ctx, data)
	if err != nil {
		return "", fmt.Errorf("store bundle: %w", err)
	}
	return digest, nil
}

// LoadBundle fetches and decodes a bundle by digest, then verifies its chain.
func LoadBundle(ctx context.Context, store artifacts.Store, digest string) (*Bundle, error) {
	data, err := store.Get(ctx, digest)
	if err != nil {
		return nil, err
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if err := VerifyChain(b.Entries); err != nil {
		return nil, err
	}
	return &b, nil
}
