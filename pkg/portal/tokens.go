package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/eshaffer321/portalgate-go/internal/types"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

// tokenFetchTimeout bounds a shared fetch, which no single caller can cancel
const tokenFetchTimeout = 30 * time.Second

// TokenService keeps the anti-forgery token in the client's cookie jar.
// Tokens may come straight from the backend or through a relay on another
// origin; either way the cookie ends up stored for the backend origin.
type TokenService struct {
	transport tokenTransport
	tokenURL  *url.URL
	logger    Logger

	flight    singleflight.Group
	mu        sync.RWMutex
	bodyToken string
}

func newTokenService(t tokenTransport, tokenURL string, logger Logger) (*TokenService, error) {
	if tokenURL == "" {
		tokenURL = types.DefaultTokenPath
	}
	u, err := t.Resolve(tokenURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid token URL")
	}
	return &TokenService{
		transport: t,
		tokenURL:  u,
		logger:    logger,
	}, nil
}

// Fetch asks the token endpoint for a fresh token. It never retries; a
// failure carries the upstream status and sets nothing.
func (s *TokenService) Fetch(ctx context.Context) error {
	return s.shared(ctx, "fetch", func(fctx context.Context) error {
		return s.fetch(fctx)
	})
}

// shared runs fn once for all concurrent callers of key. The flight runs on
// a context detached from every caller, so one caller giving up does not
// fail the others; each caller only stops waiting on its own ctx.
func (s *TokenService) shared(ctx context.Context, key string, fn func(context.Context) error) error {
	ch := s.flight.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenFetchTimeout)
		defer cancel()
		return nil, fn(fctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "token fetch abandoned")
	}
}

func (s *TokenService) fetch(ctx context.Context) error {
	resp, err := s.transport.Get(ctx, s.tokenURL.String())
	if err != nil {
		return errors.Wrap(err, "token fetch failed")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if s.logger != nil {
			s.logger.Warn("Token fetch rejected", "status", resp.StatusCode, "url", s.tokenURL.String())
		}
		return &Error{
			Code:       "TOKEN_FETCH_FAILED",
			Message:    fmt.Sprintf("token fetch failed with status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        ErrNoToken,
		}
	}

	if v := gjson.GetBytes(resp.Body, "csrfToken"); v.Exists() && v.String() != "" {
		s.mu.Lock()
		s.bodyToken = v.String()
		s.mu.Unlock()
	}

	// The backend only accepts the header if the cookie it checks against
	// travels with the request, so mirror a relayed token onto the backend.
	backend := s.transport.BaseURL()
	if _, ok := s.transport.Cookie(backend, types.CSRFCookieName); !ok {
		value, ok := s.transport.Cookie(s.tokenURL, types.CSRFCookieName)
		if !ok {
			s.mu.RLock()
			value = s.bodyToken
			s.mu.RUnlock()
		}
		if value != "" {
			s.transport.SetCookie(backend, &http.Cookie{
				Name:  types.CSRFCookieName,
				Value: value,
				Path:  "/",
			})
		}
	}

	if _, ok := s.Token(); !ok {
		return ErrNoToken
	}

	if s.logger != nil {
		s.logger.Debug("Anti-forgery token refreshed", "url", s.tokenURL.String())
	}

	return nil
}

// Token returns the token the next mutating request will echo
func (s *TokenService) Token() (string, bool) {
	if value, ok := s.transport.Cookie(s.transport.BaseURL(), types.CSRFCookieName); ok {
		return value, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bodyToken != "" {
		return s.bodyToken, true
	}
	return "", false
}

// Ensure returns the current token, fetching one first if none is stored
func (s *TokenService) Ensure(ctx context.Context) (string, error) {
	if token, ok := s.Token(); ok {
		return token, nil
	}

	err := s.shared(ctx, "ensure", func(fctx context.Context) error {
		// A previous flight may have landed since the check above
		if _, ok := s.Token(); ok {
			return nil
		}
		return s.fetch(fctx)
	})
	if err != nil {
		return "", err
	}

	token, ok := s.Token()
	if !ok {
		return "", ErrNoToken
	}
	return token, nil
}

// Invalidate drops the stored token so the next Ensure fetches a new one
func (s *TokenService) Invalidate() {
	s.mu.Lock()
	s.bodyToken = ""
	s.mu.Unlock()

	s.transport.SetCookie(s.transport.BaseURL(), &http.Cookie{
		Name:   types.CSRFCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
