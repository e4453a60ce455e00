// Package relay serves the anti-forgery token endpoint on the serving app's
// origin. It fetches a token from the backend and hands the backend's
// Set-Cookie headers to the browser unchanged.
package relay

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FailureMessage is the only error text the relay ever returns
const FailureMessage = "Failed to fetch CSRF token"

// maxBodyBytes caps the upstream answer; a longer one is a failure
const maxBodyBytes = 64 << 10

var errBodyTooLarge = errors.Errorf("upstream body exceeds %d bytes", maxBodyBytes)

type Options struct {
	// TokenURL is the backend anti-forgery endpoint
	TokenURL string

	// HTTPClient talks to the backend. Defaults to NewHTTPClient(10s, false).
	HTTPClient *http.Client

	Logger *slog.Logger
}

type Handler struct {
	tokenURL string
	client   *http.Client
	logger   *slog.Logger
	tracer   trace.Tracer
}

func New(opts Options) (*Handler, error) {
	if opts.TokenURL == "" {
		return nil, errors.New("relay: token URL is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient(10*time.Second, false)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		tokenURL: opts.TokenURL,
		client:   opts.HTTPClient,
		logger:   opts.Logger,
		tracer:   otel.Tracer("github.com/eshaffer321/portalgate-go/internal/relay"),
	}, nil
}

// NewHTTPClient returns the client used for upstream calls. insecureTLS
// skips certificate verification and must only come from a development
// configuration.
func NewHTTPClient(timeout time.Duration, insecureTLS bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // development only
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		// Set-Cookie must come from the token endpoint itself
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Register mounts the relay and a health route
func Register(r gin.IRoutes, path string, h *Handler) {
	r.GET(path, h.ServeToken)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// ServeToken proxies one token request. On a 2xx every upstream Set-Cookie
// is appended verbatim and the upstream status and body are returned. Any
// failure yields the generic error body and no cookies.
func (h *Handler) ServeToken(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "csrf relay", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	resp, body, err := h.fetch(ctx)
	if err != nil {
		h.logger.Error("csrf relay upstream failed", "url", h.tokenURL, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream unreachable")
		c.JSON(http.StatusBadGateway, gin.H{"error": FailureMessage})
		return
	}
	span.SetAttributes(attribute.Int("http.upstream_status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.logger.Warn("csrf relay upstream rejected", "url", h.tokenURL, "status", resp.StatusCode)
		span.SetStatus(codes.Error, "upstream rejected")
		c.JSON(resp.StatusCode, gin.H{"error": FailureMessage})
		return
	}

	for _, v := range resp.Header.Values("Set-Cookie") {
		c.Writer.Header().Add("Set-Cookie", v)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}

func (h *Handler) fetch(ctx context.Context) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.tokenURL, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, nil, errors.Wrap(err, "read body")
	}
	if len(body) > maxBodyBytes {
		return nil, nil, errBodyTooLarge
	}
	return resp, body, nil
}
