package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error categories reported to the user.
const (
	CategoryTransport       = "transport"
	CategoryUnauthenticated = "unauthenticated"
	CategoryBlocked         = "blocked"
	CategoryLayoutChanged   = "layout_changed"
	CategorySessionLost     = "session_lost"
	CategoryCancelled       = "cancelled"
	CategoryOther           = "other"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrUnavailable indicates the marketplace answered with a server error.
type ErrUnavailable struct {
	StatusCode int
	Err        error
}

func (e ErrUnavailable) Error() string {
	return fmt.Errorf("unavailable (status %d): %w", e.StatusCode, e.Err).Error()
}

func (e ErrUnavailable) Unwrap() error {
	return e.Err
}

// ErrUnauthenticated indicates the presented session or credentials were
// not accepted.
type ErrUnauthenticated struct {
	Err error
}

func (e ErrUnauthenticated) Error() string {
	return fmt.Errorf("unauthenticated: %w", e.Err).Error()
}

func (e ErrUnauthenticated) Unwrap() error {
	return e.Err
}

// ErrBlocked indicates a bot-mitigation challenge or rate limit.
type ErrBlocked struct {
	StatusCode int
	Err        error
}

func (e ErrBlocked) Error() string {
	return fmt.Errorf("blocked: %w", e.Err).Error()
}

func (e ErrBlocked) Unwrap() error {
	return e.Err
}

// ErrLayoutChanged indicates expected markup, such as the login form, is gone.
type ErrLayoutChanged struct {
	Err error
}

func (e ErrLayoutChanged) Error() string {
	return fmt.Errorf("blocked or layout changed: %w", e.Err).Error()
}

func (e ErrLayoutChanged) Unwrap() error {
	return e.Err
}

// ErrSessionLost indicates the session stopped being valid mid-run.
var ErrSessionLost = errors.New("session lost")

// Category maps an error to one of the user-facing categories.
func Category(err error) string {
	if err == nil {
		return ""
	}
	var blocked ErrBlocked
	if errors.As(err, &blocked) {
		return CategoryBlocked
	}
	var layout ErrLayoutChanged
	if errors.As(err, &layout) {
		return CategoryLayoutChanged
	}
	var unauth ErrUnauthenticated
	if errors.As(err, &unauth) {
		return CategoryUnauthenticated
	}
	if errors.Is(err, ErrSessionLost) {
		return CategorySessionLost
	}
	if IsTransport(err) {
		return CategoryTransport
	}
	if errors.Is(err, context.Canceled) {
		return CategoryCancelled
	}
	return CategoryOther
}

// IsTransport reports whether err is a timeout, connection or server failure.
func IsTransport(err error) bool {
	var timeout ErrTimeout
	var conn ErrConnection
	var unavailable ErrUnavailable
	return errors.As(err, &timeout) || errors.As(err, &conn) || errors.As(err, &unavailable)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var unavailable ErrUnavailable
	if errors.As(err, &unavailable) {
		return "unavailable"
	}
	return Category(err)
}

// classifyError wraps a raw request failure into the typed errors above.
// Statuses that do not indicate a transport or blocking problem are left to
// the caller, which decides based on page content.
func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusTooManyRequests:
			return ErrBlocked{StatusCode: statusCode, Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrUnavailable{StatusCode: statusCode, Err: wrapped}
		}
		return nil
	}

	// Anything else without a response is a failed exchange.
	return ErrConnection{Err: err}
}
