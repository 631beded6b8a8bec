package factor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PhraseWords is the number of words an authorization phrase must contain.
const PhraseWords = 12

// Phrase gates on a 12-word authorization phrase. The phrase is NFKD-normalized
// and lowercased before counting; only a short digest of it enters the proof.
type Phrase struct{}

func (Phrase) Name() string { return "phrase" }

// Words splits a phrase into its normalized words.
func Words(phrase string) []string {
	return strings.Fields(strings.ToLower(norm.NFKD.String(phrase)))
}

// Verify accepts exactly PhraseWords whitespace-separated words.
func (Phrase) Verify(ctx context.Context, response string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	words := Words(response)
	if len(words) != PhraseWords {
		return "", fmt.Errorf("%w: phrase has %d words, want %d", ErrVerificationFailed, len(words), PhraseWords)
	}
	sum := sha256.Sum256([]byte(strings.Join(words, " ")))
	return "phrase:" + hex.EncodeToString(sum[:8]), nil
}
