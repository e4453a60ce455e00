package types

import (
	"errors"
	"time"
)

const (
	// DefaultBaseURL is the default backend origin
	DefaultBaseURL = "http://localhost:8000"

	// DefaultDispatchPath is the single relay path every envelope is POSTed to
	DefaultDispatchPath = "/api/generic/"

	// DefaultTokenPath is the backend anti-forgery endpoint
	DefaultTokenPath = "/api/csrf/"

	// DefaultTimeout is the default HTTP client timeout. Zero means the
	// request lives until it is cancelled.
	DefaultTimeout time.Duration = 0

	// UserAgent is the user agent string
	UserAgent = "portalgate-go/1.0.0"

	// CSRFCookieName is the cookie the backend stores the anti-forgery token in
	CSRFCookieName = "csrftoken"

	// CSRFHeaderName is the header the token is echoed in on mutating requests
	CSRFHeaderName = "X-CSRFToken"
)

// Common errors
var (
	// ErrNotAuthenticated is returned when the backend answers 401
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrForbidden is returned when the backend answers 403
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited is returned when rate limited
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout is returned on timeout
	ErrTimeout = errors.New("request timeout")

	// ErrNotFound is returned when resource not found
	ErrNotFound = errors.New("resource not found")

	// ErrServerError is returned for server errors
	ErrServerError = errors.New("server error")

	// ErrEmptyRoute is returned when an envelope has no apiRoute
	ErrEmptyRoute = errors.New("apiRoute must not be empty")

	// ErrNoToken is returned when no anti-forgery token could be obtained
	ErrNoToken = errors.New("anti-forgery token unavailable")
)
