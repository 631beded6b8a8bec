// Package nonce records attestation nonces so a signed record cannot be
// produced twice with the same anti-replay token.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrReplay is returned when a nonce was already claimed.
var ErrReplay = errors.New("nonce: already claimed")

// DefaultTTL bounds how long a claimed nonce is remembered.
const DefaultTTL = 24 * time.Hour

// Registry claims nonces exactly once.
type Registry interface {
	Claim(ctx context.Context, nonce string) error
}

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryRegistry remembers nonces for ttl. A non-positive ttl selects DefaultTTL.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryRegistry{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Claim implements Registry.
func (r *MemoryRegistry) Claim(_ context.Context, nonce string) error {
	if nonce == "" {
		return fmt.Errorf("nonce: empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if exp, ok := r.seen[nonce]; ok && now.Before(exp) {
		return fmt.Errorf("%w: %s", ErrReplay, nonce)
	}
	r.seen[nonce] = now.Add(r.ttl)
	r.sweepLocked(now)
	return nil
}

func (r *MemoryRegistry) sweepLocked(now time.Time) {
	for n, exp := range r.seen {
		if !now.Before(exp) {
			delete(r.seen, n)
		}
	}
}

// Len returns the number of remembered nonces.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
