// Package factor implements the second vector: a verification step between
// linking an identity and revealing the vault.
package factor

import (
	"context"
	"errors"
	"time"
)

// ErrVerificationFailed is returned when a response does not satisfy the verifier.
var ErrVerificationFailed = errors.New("factor: verification failed")

// Verifier checks a user response and yields the proof recorded in attestations.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, response string) (proof string, err error)
}

// DelayProof is the sentinel proof of the fixed-latency verifier.
const DelayProof = "2FA_CONFIRMED"

// Delay is the simulated second factor: it ignores the response and confirms
// after a fixed latency.
type Delay struct {
	Latency time.Duration
	// After defaults to time.After.
	After func(time.Duration) <-chan time.Time
}

// NewDelay returns a Delay verifier confirming after latency.
func NewDelay(latency time.Duration) *Delay {
	return &Delay{Latency: latency, After: time.After}
}

func (d *Delay) Name() string { return "delay" }

// Verify waits for the configured latency or ctx cancellation.
func (d *Delay) Verify(ctx context.Context, _ string) (string, error) {
	after := d.After
	if after == nil {
		after = time.After
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-after(d.Latency):
		return DelayProof, nil
	}
}
