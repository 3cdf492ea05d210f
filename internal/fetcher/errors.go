package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrInvalidURL is returned for URLs that cannot be fetched at all.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrTimeout is returned when the fetch exceeded its budget.
	ErrTimeout = errors.New("fetch timed out")

	// ErrConnection is returned when the host could not be reached.
	ErrConnection = errors.New("connection failed")
)

// HTTPStatusError reports a response with status >= 400.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP error %d", e.StatusCode)
}

// Failure classes returned by Class.
const (
	ClassTimeout     = "timeout"
	ClassConnection  = "connection error"
	ClassInvalidURL  = "invalid URL"
	ClassUnreachable = "website unreachable, blocked, or timeout"
)

// Class returns a short human-readable failure class for err.
func Class(err error) string {
	var statusErr *HTTPStatusError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &statusErr):
		return statusErr.Error()
	case errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.Is(err, ErrConnection):
		return ClassConnection
	case errors.Is(err, ErrInvalidURL):
		return ClassInvalidURL
	default:
		return ClassUnreachable
	}
}

// classify maps a transport error to one of the package sentinels.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}
