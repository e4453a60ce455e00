package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eshaffer321/portalgate-go/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type staticToken struct {
	token string
	err   error
	calls int
}

func (s *staticToken) Ensure(ctx context.Context) (string, error) {
	s.calls++
	return s.token, s.err
}

func newTestTransport(t *testing.T, url string) *Transport {
	t.Helper()
	tr, err := New(&Options{BaseURL: url})
	require.NoError(t, err)
	return tr
}

func TestNew_RejectsRelativeBaseURL(t *testing.T) {
	_, err := New(&Options{BaseURL: "/api"})
	assert.Error(t, err)
}

func TestDispatch_SendsEnvelopeWithHeaders(t *testing.T) {
	var gotBody string
	var gotHeader http.Header
	var gotPath, gotMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeader = r.Header.Clone()
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL)
	tokens := &staticToken{token: "abc123"}
	tr.SetTokenSource(tokens)

	var result map[string]interface{}
	err := tr.Dispatch(context.Background(), "ping", []byte(`{"apiRoute":"ping"}`), &result)

	require.NoError(t, err)
	assert.Equal(t, "ok", result["status"])
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, types.DefaultDispatchPath, gotPath)
	assert.JSONEq(t, `{"apiRoute":"ping"}`, gotBody)
	assert.Equal(t, "abc123", gotHeader.Get(types.CSRFHeaderName))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "application/json", gotHeader.Get("Accept"))
	assert.NotEmpty(t, gotHeader.Get(requestIDHeader))
	assert.NotEmpty(t, gotHeader.Get(instanceHeader))
	assert.Equal(t, 1, tokens.calls)
}

func TestDispatch_TokenFailureSendsNothing(t *testing.T) {
	hit := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL)
	tr.SetTokenSource(&staticToken{err: types.ErrNoToken})

	err := tr.Dispatch(context.Background(), "ping", []byte(`{"apiRoute":"ping"}`), nil)

	assert.ErrorIs(t, err, types.ErrNoToken)
	assert.False(t, hit)
}

func TestDispatch_CookiesTravelBothWays(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "s-1", Path: "/"})
			w.WriteHeader(http.StatusOK)
			return
		}
		if c, err := r.Cookie("sessionid"); err == nil {
			seen = c.Value
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tr := newTestTransport(t, server.URL)

	resp, err := tr.Get(context.Background(), "/api/csrf/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	value, ok := tr.Cookie(tr.BaseURL(), "sessionid")
	assert.True(t, ok)
	assert.Equal(t, "s-1", value)

	require.NoError(t, tr.Dispatch(context.Background(), "ping", []byte(`{"apiRoute":"ping"}`), nil))
	assert.Equal(t, "s-1", seen)
}

func TestDispatch_Cancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	tr := newTestTransport(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := tr.Dispatch(ctx, "slow", []byte(`{"apiRoute":"slow"}`), nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDispatch_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantIs     error
		wantMsg    string
		wantStatus int
	}{
		{name: "401 is not authenticated", status: 401, body: `{"detail":"no"}`, wantIs: types.ErrNotAuthenticated},
		{name: "403 csrf rejection surfaced verbatim", status: 403, body: `{"detail":"CSRF token missing"}`, wantIs: types.ErrForbidden, wantMsg: `{"detail":"CSRF token missing"}`, wantStatus: 403},
		{name: "400 validation body verbatim", status: 400, body: `{"field":"required"}`, wantMsg: `{"field":"required"}`, wantStatus: 400},
		{name: "422 body verbatim", status: 422, body: `bad input`, wantMsg: "bad input", wantStatus: 422},
		{name: "429 rate limited", status: 429, wantIs: types.ErrRateLimited, wantStatus: 429},
		{name: "503 server error", status: 503, wantIs: types.ErrServerError, wantMsg: "server error: 503 (Service Unavailable)", wantStatus: 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			tr := newTestTransport(t, server.URL)
			err := tr.Dispatch(context.Background(), "op", []byte(`{"apiRoute":"op"}`), nil)

			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, err.Error())
			}
			if tt.wantStatus != 0 {
				var apiErr *types.Error
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
				assert.NotEmpty(t, apiErr.RequestID)
			}
		})
	}
}

func TestHandleHTTPError_ServerError_IncludesStatusCodeDescription(t *testing.T) {
	transport := &Transport{}

	tests := []struct {
		name         string
		statusCode   int
		expectedDesc string
	}{
		{"500 Internal Server Error", 500, "Internal Server Error"},
		{"502 Bad Gateway", 502, "Bad Gateway"},
		{"503 Service Unavailable", 503, "Service Unavailable"},
		{"525 SSL Handshake Failed", 525, "SSL Handshake Failed"},
		{"526 Invalid SSL Certificate", 526, "Invalid SSL Certificate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := transport.handleHTTPError(tt.statusCode, []byte(`error page`))

			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedDesc)
			assert.NotContains(t, err.Error(), "error page", "server error bodies are not echoed")
		})
	}
}

func TestDispatch_RetryIsOptIn(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	plain := newTestTransport(t, server.URL)
	err := plain.Dispatch(context.Background(), "op", []byte(`{"apiRoute":"op"}`), nil)
	assert.ErrorIs(t, err, types.ErrServerError)
	assert.Equal(t, 1, attempts)

	attempts = 0
	retrying, err := New(&Options{
		BaseURL:     server.URL,
		RetryConfig: &types.RetryConfig{MaxRetries: 2, RetryWait: time.Millisecond, MaxWait: 5 * time.Millisecond},
	})
	require.NoError(t, err)

	var result map[string]string
	require.NoError(t, retrying.Dispatch(context.Background(), "op", []byte(`{"apiRoute":"op"}`), &result))
	assert.Equal(t, "ok", result["status"])
	assert.Equal(t, 2, attempts)
}

func TestDispatch_RecordsSpan(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(types.CSRFHeaderName) == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	tr := newTestTransport(t, server.URL)
	tr.tracer = provider.Tracer("test")

	require.Error(t, tr.Dispatch(context.Background(), "ping", []byte(`{"apiRoute":"ping"}`), nil))

	tr.SetTokenSource(&staticToken{token: "abc"})
	require.NoError(t, tr.Dispatch(context.Background(), "save", []byte(`{"apiRoute":"save"}`), nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "dispatch ping", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.Int("http.status_code", http.StatusForbidden))

	assert.Equal(t, "dispatch save", spans[1].Name())
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
	assert.Contains(t, spans[1].Attributes(), attribute.String("portal.api_route", "save"))
}
