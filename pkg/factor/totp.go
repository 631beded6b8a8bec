package factor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTP verifies RFC 6238 one-time codes against a shared base32 secret.
type TOTP struct {
	secret string
	opts   totp.ValidateOpts
	now    func() time.Time
}

// NewTOTP creates a verifier for secret with 30s periods, six digits and one step of skew.
func NewTOTP(secret string) *TOTP {
	return &TOTP{
		secret: secret,
		opts: totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
		now: time.Now,
	}
}

// WithClock overrides the validation clock.
func (v *TOTP) WithClock(now func() time.Time) *TOTP {
	v.now = now
	return v
}

func (v *TOTP) Name() string { return "totp" }

// Verify validates response as a one-time code. The proof names the time step
// the code was checked against, never the code itself.
func (v *TOTP) Verify(ctx context.Context, response string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	code := strings.TrimSpace(response)
	now := v.now().UTC()
	ok, err := totp.ValidateCustom(code, v.secret, now, v.opts)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if !ok {
		return "", ErrVerificationFailed
	}
	step := now.Unix() / int64(v.opts.Period)
	return fmt.Sprintf("totp:%d", step), nil
}

// Enroll generates a new TOTP key for account.
func Enroll(issuer, account string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if err != nil {
		return nil, fmt.Errorf("totp enroll: %w", err)
	}
	return key, nil
}
