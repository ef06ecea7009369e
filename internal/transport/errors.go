package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, connection
	// errors, and 5xx responses.
	ErrTransient = errors.New("transient transport failure")
	// ErrPermanent marks 4xx rejections automatic retry cannot fix.
	ErrPermanent = errors.New("permanent transport failure")
)

// StatusError carries the remote status code and response detail.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
}

// Retryable reports whether automatic retry may be applied to err.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsTimeout reports whether err stems from a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func classifyStatus(code int, detail string) error {
	statusErr := &StatusError{StatusCode: code, Detail: detail}
	if code >= 500 {
		return fmt.Errorf("%w: %w", ErrTransient, statusErr)
	}
	return fmt.Errorf("%w: %w", ErrPermanent, statusErr)
}

func classifyNetwork(op string, err error) error {
	if IsTimeout(err) {
		return fmt.Errorf("%w: %s timed out: %w", ErrTransient, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
}
