package portal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/eshaffer321/portalgate-go/internal/transport"
	internalTypes "github.com/eshaffer321/portalgate-go/internal/types"
	"github.com/getsentry/sentry-go"
)

const (
	// DefaultBaseURL is the default backend origin
	DefaultBaseURL = internalTypes.DefaultBaseURL

	// DefaultDispatchPath is the relay path every envelope is POSTed to
	DefaultDispatchPath = internalTypes.DefaultDispatchPath

	// DefaultTokenPath is the backend anti-forgery endpoint
	DefaultTokenPath = internalTypes.DefaultTokenPath

	// DefaultLoginPath is where unauthenticated viewers are sent
	DefaultLoginPath = "/login"
)

// DefaultExemptPaths are routes the session gate never verifies
var DefaultExemptPaths = []string{"/login", "/connection-test"}

// Client is the entry point for talking to the portal backend. One Client
// serves one viewer: it owns the cookie jar, the anti-forgery token and the
// session gate.
type Client struct {
	// Tokens keeps the anti-forgery token current
	Tokens *TokenService

	// Gate owns authentication state and redirect policy
	Gate *Gate

	baseURL    string
	httpClient *http.Client
	transport  Transport
	options    *ClientOptions
}

// ClientOptions configures the client
type ClientOptions struct {
	// BaseURL is the backend origin
	BaseURL string

	// DispatchPath overrides the generic dispatch path
	DispatchPath string

	// TokenURL is where anti-forgery tokens are fetched. It may be a path on
	// the backend or an absolute URL of a token relay.
	TokenURL string

	// Origin is sent as the Origin header, typically the serving app origin
	Origin string

	// HTTPClient allows using a custom HTTP client. A cookie jar is
	// installed if it has none.
	HTTPClient *http.Client

	// Timeout sets the HTTP client timeout. Zero means no timeout.
	Timeout time.Duration

	// Headers are added to every request
	Headers map[string]string

	// Logger for debug logging
	Logger Logger

	// RetryConfig enables transport retries. Nil means never retry.
	RetryConfig *RetryConfig

	// Hooks for observability
	Hooks *internalTypes.Hooks

	// Routes names the identity, logout and login operations
	Routes OperationRoutes

	// LoginPath is the redirect target for unauthenticated viewers
	LoginPath string

	// ExemptPaths are routes the gate lets through without verification
	ExemptPaths []string

	// Navigator performs redirects decided by the gate
	Navigator Navigator

	// SentryDSN enables Sentry error tracking when set
	SentryDSN string

	// SentryOptions allows custom Sentry configuration
	SentryOptions *sentry.ClientOptions
}

// NewClient creates a new portal client
func NewClient(opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = &ClientOptions{}
	}

	if opts.SentryDSN != "" || opts.SentryOptions != nil {
		sentryOpts := sentry.ClientOptions{}

		if opts.SentryOptions != nil {
			sentryOpts = *opts.SentryOptions
		}

		if opts.SentryDSN != "" {
			sentryOpts.Dsn = opts.SentryDSN
		}

		if sentryOpts.Environment == "" {
			sentryOpts.Environment = "production"
		}

		// Sentry is best effort; a bad DSN must not stop the client
		if err := sentry.Init(sentryOpts); err != nil {
			if opts.Logger != nil {
				opts.Logger.Error("Failed to initialize Sentry", "error", err)
			}
		}
	}

	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	if opts.Timeout > 0 {
		opts.HTTPClient.Timeout = opts.Timeout
	}

	transportOpts := &transport.Options{
		BaseURL:      opts.BaseURL,
		DispatchPath: opts.DispatchPath,
		Origin:       opts.Origin,
		HTTPClient:   opts.HTTPClient,
		Headers:      opts.Headers,
		Logger:       opts.Logger,
		Hooks:        opts.Hooks,
	}
	if opts.RetryConfig != nil {
		transportOpts.RetryConfig = &internalTypes.RetryConfig{
			MaxRetries: opts.RetryConfig.MaxRetries,
			RetryWait:  opts.RetryConfig.RetryWait,
			MaxWait:    opts.RetryConfig.MaxWait,
		}
	}
	trans, err := transport.New(transportOpts)
	if err != nil {
		return nil, err
	}

	tokens, err := newTokenService(trans, opts.TokenURL, opts.Logger)
	if err != nil {
		return nil, err
	}
	trans.SetTokenSource(tokens)

	c := &Client{
		Tokens:     tokens,
		baseURL:    trans.BaseURL().String(),
		httpClient: opts.HTTPClient,
		transport:  trans,
		options:    opts,
	}
	c.Gate = newGate(c, gateConfig{
		routes:    opts.Routes,
		loginPath: opts.LoginPath,
		exempt:    opts.ExemptPaths,
		navigator: opts.Navigator,
		logger:    opts.Logger,
	})

	return c, nil
}

// Do sends env and decodes the JSON answer into result. A 401 from any
// operation makes the gate re-verify the session; a 403 drops the stored
// anti-forgery token so the next call fetches a fresh one.
func (c *Client) Do(ctx context.Context, env *Envelope, result interface{}) error {
	err := c.execute(ctx, env, result)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrNotAuthenticated) && c.Gate != nil {
		if verr := c.Gate.Verify(context.WithoutCancel(ctx)); verr != nil && c.options.Logger != nil {
			c.options.Logger.Warn("Session re-verification failed", "route", env.Route(), "error", verr)
		}
	}

	if errors.Is(err, ErrForbidden) && c.Tokens != nil {
		c.Tokens.Invalidate()
	}

	return err
}

// execute is the raw send path: validation, transport, Sentry capture
func (c *Client) execute(ctx context.Context, env *Envelope, result interface{}) error {
	if env == nil || env.Route() == "" {
		return ErrEmptyRoute
	}

	body, err := env.MarshalJSON()
	if err != nil {
		return err
	}

	start := time.Now()
	err = c.transport.Dispatch(ctx, env.Route(), body, result)
	duration := time.Since(start)

	if err != nil && !IsCanceled(err) && !errors.Is(err, ErrNotAuthenticated) {
		c.captureError(ctx, env, duration, err)
	}

	return err
}

func (c *Client) captureError(ctx context.Context, env *Envelope, duration time.Duration, err error) {
	capture := func(hub *sentry.Hub) {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("operation.route", env.Route())
			scope.SetContext("operation", map[string]interface{}{
				"route":    env.Route(),
				"duration": duration.String(),
			})
			hub.CaptureException(err)
		})
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		capture(hub)
		return
	}
	capture(sentry.CurrentHub())
}

// Call sends env through exec and decodes the answer as T
func Call[T any](ctx context.Context, exec Executor, env *Envelope) (T, error) {
	var out T
	err := exec.Do(ctx, env, &out)
	return out, err
}

// Close flushes any pending Sentry events and performs cleanup
func (c *Client) Close() {
	sentry.Flush(2 * time.Second)
}
