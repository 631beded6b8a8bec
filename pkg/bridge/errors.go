package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderAbsent means no signing provider is installed or enabled.
	ErrProviderAbsent = errors.New("bridge: no signing provider detected")
	// ErrUserRejected means the user declined the provider's connect prompt.
	ErrUserRejected = errors.New("bridge: connection rejected by user")
	// ErrSigningRejected means the user declined to sign.
	ErrSigningRejected = errors.New("bridge: signature rejected by user")
	// ErrSigningFailed is a provider-internal signing failure.
	ErrSigningFailed = errors.New("bridge: signing failed")
)

// CodeUserRejected is the conventional wallet error code for a declined request.
const CodeUserRejected = 4001

// ProviderError is the error shape providers report. Code follows the usual
// wallet convention: 4001 is an explicit user decline.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// Rejected reports whether the provider says the user declined.
func (e *ProviderError) Rejected() bool {
	return e.Code == CodeUserRejected
}

// Recoverable reports whether err belongs to the bridge taxonomy. Every
// bridge error is recoverable by re-initiating the action.
func Recoverable(err error) bool {
	return errors.Is(err, ErrProviderAbsent) ||
		errors.Is(err, ErrUserRejected) ||
		errors.Is(err, ErrSigningRejected) ||
		errors.Is(err, ErrSigningFailed)
}

func classifyConnect(err error) error {
	if Recoverable(err) {
		return err
	}
	// Anything a provider returns out of its connect flow counts as a decline.
	return fmt.Errorf("%w: %v", ErrUserRejected, err)
}

func classifySign(err error) error {
	if Recoverable(err) {
		return err
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Rejected() {
		return fmt.Errorf("%w: %v", ErrSigningRejected, err)
	}
	return fmt.Errorf("%w: %v", ErrSigningFailed, err)
}
