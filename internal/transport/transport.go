package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/eshaffer321/portalgate-go/internal/types"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"
)

const (
	contentType     = "application/json"
	requestIDHeader = "X-Request-ID"
	instanceHeader  = "X-Client-Instance"
	tracerName      = "github.com/eshaffer321/portalgate-go/internal/transport"
)

// TokenSource supplies the anti-forgery token for mutating requests
type TokenSource interface {
	Ensure(ctx context.Context) (string, error)
}

// Transport is the pre-bound HTTP client every operation goes through.
// Configuration is fixed at construction; the cookie jar is the only state
// that changes afterwards.
type Transport struct {
	baseURL      *url.URL
	dispatchPath string
	httpClient   *http.Client
	retryClient  *retryablehttp.Client
	headers      map[string]string
	tokens       TokenSource
	logger       types.Logger
	hooks        *types.Hooks
	tracer       trace.Tracer
}

// RawResponse is an undecoded HTTP response
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Options for the transport
type Options struct {
	BaseURL      string
	DispatchPath string
	Origin       string
	HTTPClient   *http.Client
	Headers      map[string]string
	RetryConfig  *types.RetryConfig
	Logger       types.Logger
	Hooks        *types.Hooks
}

// New creates a new transport
func New(opts *Options) (*Transport, error) {
	if opts == nil {
		opts = &Options{}
	}

	if opts.BaseURL == "" {
		opts.BaseURL = types.DefaultBaseURL
	}
	if opts.DispatchPath == "" {
		opts.DispatchPath = types.DefaultDispatchPath
	}

	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("base URL must be absolute: %q", opts.BaseURL)
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: types.DefaultTimeout,
		}
	}

	// Cookies travel both ways, so every client gets a jar
	if opts.HTTPClient.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create cookie jar")
		}
		opts.HTTPClient.Jar = jar
	}

	var retryClient *retryablehttp.Client
	if opts.RetryConfig != nil {
		retryClient = retryablehttp.NewClient()
		retryClient.HTTPClient = opts.HTTPClient
		retryClient.RetryMax = opts.RetryConfig.MaxRetries
		retryClient.RetryWaitMin = opts.RetryConfig.RetryWait
		retryClient.RetryWaitMax = opts.RetryConfig.MaxWait

		if opts.Logger != nil {
			retryClient.Logger = &retryLogger{logger: opts.Logger}
		} else {
			retryClient.Logger = nil
		}
	}

	headers := map[string]string{
		"Accept":       contentType,
		"Content-Type": contentType,
		"User-Agent":   types.UserAgent,
		instanceHeader: uuid.New().String(),
	}
	if opts.Origin != "" {
		headers["Origin"] = opts.Origin
	}

	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &Transport{
		baseURL:      base,
		dispatchPath: opts.DispatchPath,
		httpClient:   opts.HTTPClient,
		retryClient:  retryClient,
		headers:      headers,
		logger:       opts.Logger,
		hooks:        opts.Hooks,
		tracer:       otel.Tracer(tracerName),
	}, nil
}

// SetTokenSource sets where the anti-forgery token comes from
func (t *Transport) SetTokenSource(src TokenSource) {
	t.tokens = src
}

// BaseURL returns a copy of the backend origin
func (t *Transport) BaseURL() *url.URL {
	u := *t.baseURL
	return &u
}

// Resolve turns a path or absolute URL into an absolute URL against the backend origin
func (t *Transport) Resolve(ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	return t.baseURL.ResolveReference(r), nil
}

// Dispatch POSTs an encoded envelope to the dispatch path and decodes the
// JSON answer into result
func (t *Transport) Dispatch(ctx context.Context, route string, body []byte, result interface{}) (err error) {
	ctx, span := t.tracer.Start(ctx, "dispatch "+route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("portal.api_route", route)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	target, err := t.Resolve(t.dispatchPath)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	requestID := uuid.New().String()
	httpReq.Header.Set(requestIDHeader, requestID)
	span.SetAttributes(attribute.String("portal.request_id", requestID))

	if t.tokens != nil {
		token, err := t.tokens.Ensure(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to obtain anti-forgery token")
		}
		httpReq.Header.Set(types.CSRFHeaderName, token)
	}

	if t.hooks != nil && t.hooks.OnRequest != nil {
		t.hooks.OnRequest(ctx, httpReq)
	}

	if t.logger != nil {
		t.logger.Debug("Dispatch request", "route", route, "request_id", requestID, "size", len(body))
	}

	start := time.Now()
	resp, err := t.doRequest(httpReq)
	duration := time.Since(start)

	if err != nil {
		if t.hooks != nil && t.hooks.OnError != nil {
			t.hooks.OnError(ctx, err)
		}
		return errors.Wrap(err, "dispatch request failed")
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if t.hooks != nil && t.hooks.OnResponse != nil {
		t.hooks.OnResponse(ctx, resp, duration)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}

	if t.logger != nil {
		t.logger.Debug("Dispatch response", "route", route, "status", resp.StatusCode, "duration", duration, "size", len(respBody))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := t.handleHTTPError(resp.StatusCode, respBody)
		var apiErr *types.Error
		if errors.As(herr, &apiErr) {
			apiErr.RequestID = requestID
		}
		return herr
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return errors.Wrap(err, "failed to parse response")
		}
	}

	return nil
}

// Get issues a plain GET carrying cookies but no anti-forgery header
func (t *Transport) Get(ctx context.Context, target string) (*RawResponse, error) {
	u, err := t.Resolve(target)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Accept", contentType)
	httpReq.Header.Set("User-Agent", t.headers["User-Agent"])
	httpReq.Header.Set(instanceHeader, t.headers[instanceHeader])
	if origin, ok := t.headers["Origin"]; ok {
		httpReq.Header.Set("Origin", origin)
	}

	// Token fetches are never retried
	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if t.hooks != nil && t.hooks.OnError != nil {
			t.hooks.OnError(ctx, err)
		}
		return nil, errors.Wrap(err, "GET request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Cookie returns the value of the named cookie the jar would send to target
func (t *Transport) Cookie(target *url.URL, name string) (string, bool) {
	if t.httpClient.Jar == nil {
		return "", false
	}
	for _, c := range t.httpClient.Jar.Cookies(target) {
		if c.Name == name && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

// SetCookie stores a cookie in the jar as if target had set it
func (t *Transport) SetCookie(target *url.URL, cookie *http.Cookie) {
	if t.httpClient.Jar == nil || cookie == nil {
		return
	}
	t.httpClient.Jar.SetCookies(target, []*http.Cookie{cookie})
}

// doRequest executes the HTTP request with retry if configured
func (t *Transport) doRequest(req *http.Request) (*http.Response, error) {
	if t.retryClient != nil {
		retryReq, err := retryablehttp.FromRequest(req)
		if err != nil {
			return nil, err
		}
		return t.retryClient.Do(retryReq)
	}
	return t.httpClient.Do(req)
}

// handleHTTPError maps a non-2xx response to an error. Client error bodies
// are surfaced verbatim; the transport does not interpret them.
func (t *Transport) handleHTTPError(statusCode int, body []byte) error {
	msg := strings.TrimSpace(string(body))

	switch {
	case statusCode == http.StatusUnauthorized:
		return types.ErrNotAuthenticated
	case statusCode == http.StatusForbidden:
		return &types.Error{
			Code:       "FORBIDDEN",
			Message:    msg,
			StatusCode: statusCode,
			Err:        types.ErrForbidden,
		}
	case statusCode == http.StatusNotFound:
		return &types.Error{
			Code:       "NOT_FOUND",
			Message:    msg,
			StatusCode: statusCode,
			Err:        types.ErrNotFound,
		}
	case statusCode == http.StatusTooManyRequests:
		return &types.Error{
			Code:       "RATE_LIMITED",
			Message:    msg,
			StatusCode: statusCode,
			Err:        types.ErrRateLimited,
		}
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return &types.Error{
			Code:       "TIMEOUT",
			Message:    msg,
			StatusCode: statusCode,
			Err:        types.ErrTimeout,
		}
	case statusCode >= 500:
		baseMsg := fmt.Sprintf("server error: %d", statusCode)
		if desc := httpStatusDescription(statusCode); desc != "" {
			baseMsg = fmt.Sprintf("server error: %d (%s)", statusCode, desc)
		}
		return &types.Error{
			Code:       "SERVER_ERROR",
			Message:    baseMsg,
			StatusCode: statusCode,
			Err:        types.ErrServerError,
		}
	case statusCode == http.StatusBadRequest:
		if msg == "" {
			msg = "bad request"
		}
		return &types.Error{
			Code:       "BAD_REQUEST",
			Message:    msg,
			StatusCode: statusCode,
		}
	default:
		if msg == "" {
			msg = fmt.Sprintf("HTTP error: %d", statusCode)
		}
		return &types.Error{
			Code:       "HTTP_ERROR",
			Message:    msg,
			StatusCode: statusCode,
		}
	}
}

// httpStatusDescription returns a human-readable description for common HTTP status codes.
// This helps users understand errors like 525 (SSL Handshake Failed) which are Cloudflare-specific.
func httpStatusDescription(statusCode int) string {
	descriptions := map[int]string{
		500: "Internal Server Error",
		501: "Not Implemented",
		502: "Bad Gateway",
		503: "Service Unavailable",
		504: "Gateway Timeout",
		520: "Web Server Error",
		521: "Web Server Is Down",
		522: "Connection Timed Out",
		523: "Origin Is Unreachable",
		524: "A Timeout Occurred",
		525: "SSL Handshake Failed",
		526: "Invalid SSL Certificate",
		530: "Origin DNS Error",
	}
	return descriptions[statusCode]
}

// retryLogger adapts our logger to retryablehttp
type retryLogger struct {
	logger types.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, keysAndValues...)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, keysAndValues...)
}
