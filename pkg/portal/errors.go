package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/eshaffer321/portalgate-go/internal/types"
)

var (
	// ErrNotAuthenticated is returned when the backend answers 401
	ErrNotAuthenticated = types.ErrNotAuthenticated

	// ErrForbidden is returned when the backend answers 403
	ErrForbidden = types.ErrForbidden

	// ErrRateLimited is returned when rate limited
	ErrRateLimited = types.ErrRateLimited

	// ErrTimeout is returned on timeout
	ErrTimeout = types.ErrTimeout

	// ErrNotFound is returned when resource not found
	ErrNotFound = types.ErrNotFound

	// ErrServerError is returned for server errors
	ErrServerError = types.ErrServerError

	// ErrEmptyRoute is returned when an envelope has no apiRoute
	ErrEmptyRoute = types.ErrEmptyRoute

	// ErrNoToken is returned when no anti-forgery token could be obtained
	ErrNoToken = types.ErrNoToken

	// ErrReservedParam is returned when a parameter bag tries to set apiRoute
	ErrReservedParam = errors.New("apiRoute is reserved and cannot be passed as a parameter")

	// ErrClosed is returned by Wait once the dispatcher has been closed
	ErrClosed = errors.New("dispatcher closed")

	// ErrLoginFailed is returned when a login attempt does not yield an authenticated session
	ErrLoginFailed = errors.New("login failed")
)

// Error represents an API error
type Error = types.Error

// LogoutError carries the backend's reason for refusing a logout
type LogoutError struct {
	Detail string
}

// Error implements the error interface
func (e *LogoutError) Error() string {
	if e.Detail == "" {
		return "logout failed"
	}
	return fmt.Sprintf("logout failed: %s", e.Detail)
}

// IsAuthError checks if error is authentication related
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrLoginFailed)
}

// IsCanceled reports whether err is the result of a cancelled request.
// Cancellation is not a failure and callers should discard it.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsRetryable checks if error is retryable
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrServerError) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}

	return false
}
