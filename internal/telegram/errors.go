package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Platform error taxonomy. Client implementations map provider errors onto
// these so the session manager and validators can branch on them.
var (
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrCodeInvalid      = errors.New("phone code invalid")
	ErrCodeExpired      = errors.New("phone code expired")
	ErrPasswordRequired = errors.New("two-factor password required")
	ErrPasswordInvalid  = errors.New("two-factor password invalid")
	ErrUnauthorized     = errors.New("session not authorized")
	ErrNotFound         = errors.New("channel not found")
	ErrAccessDenied     = errors.New("access to channel denied")
	ErrFlood            = errors.New("rate limited by platform")
)

// TransientError marks a failure worth retrying: connectivity problems,
// timeouts, platform flood waits. Everything else is permanent until an
// operator intervenes.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried rather than recorded
// as a permanent outcome.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrFlood)
}
