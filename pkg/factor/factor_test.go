package factor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay_ConfirmsAfterLatency(t *testing.T) {
	fire := make(chan time.Time, 1)
	var asked time.Duration
	d := &Delay{Latency: 800 * time.Millisecond, After: func(l time.Duration) <-chan time.Time {
		asked = l
		return fire
	}}
	fire <- time.Now()

	proof, err := d.Verify(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DelayProof, proof)
	assert.Equal(t, 800*time.Millisecond, asked)
	assert.Equal(t, "delay", d.Name())
}

func TestDelay_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &Delay{Latency: time.Hour, After: func(time.Duration) <-chan time.Time { return nil }}

	_, err := d.Verify(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTOTP_Verify(t *testing.T) {
	key, err := Enroll("vext", "alice@example.com")
	require.NoError(t, err)

	now := time.Date(2025, 1, 15, 17, 27, 23, 0, time.UTC)
	v := NewTOTP(key.Secret()).WithClock(func() time.Time { return now })

	code, err := totp.GenerateCode(key.Secret(), now)
	require.NoError(t, err)

	proof, err := v.Verify(context.Background(), " "+code+" ")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("totp:%d", now.Unix()/30), proof)
	assert.NotContains(t, proof, code)

	_, err = v.Verify(context.Background(), "000000x")
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestTOTP_RejectsStaleCode(t *testing.T) {
	key, err := Enroll("vext", "alice@example.com")
	require.NoError(t, err)

	issued := time.Date(2025, 1, 15, 17, 0, 0, 0, time.UTC)
	code, err := totp.GenerateCode(key.Secret(), issued)
	require.NoError(t, err)

	v := NewTOTP(key.Secret()).WithClock(func() time.Time { return issued.Add(10 * time.Minute) })
	_, err = v.Verify(context.Background(), code)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestPhrase_Verify(t *testing.T) {
	twelve := strings.Repeat("word ", 11) + "last"

	proof, err := Phrase{}.Verify(context.Background(), twelve)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(proof, "phrase:"))
	assert.NotContains(t, proof, "word")

	again, err := Phrase{}.Verify(context.Background(), "  "+strings.ToUpper(twelve)+"\n")
	require.NoError(t, err)
	assert.Equal(t, proof, again, "case and whitespace do not change the proof")

	for _, bad := range []string{"", "one two three", twelve + " extra"} {
		_, err := Phrase{}.Verify(context.Background(), bad)
		assert.ErrorIs(t, err, ErrVerificationFailed, bad)
	}
}

func TestWords_Normalizes(t *testing.T) {
	// U+FB01 is a compatibility ligature that NFKD splits into "fi".
	assert.Equal(t, []string{"fine", "day"}, Words("\ufb01ne\tDay"))
}
