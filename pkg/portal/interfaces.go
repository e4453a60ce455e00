package portal

import (
	"context"
	"net/http"
	"net/url"

	"github.com/eshaffer321/portalgate-go/internal/transport"
)

// Logger interface for logging. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Executor sends one envelope and decodes the answer into result
type Executor interface {
	Do(ctx context.Context, env *Envelope, result interface{}) error
}

// Navigator moves the viewer to another route
type Navigator interface {
	Redirect(target string)
}

// NavigatorFunc adapts a function to Navigator
type NavigatorFunc func(target string)

// Redirect calls f(target)
func (f NavigatorFunc) Redirect(target string) {
	f(target)
}

// Transport handles HTTP communication with the backend
type Transport interface {
	Dispatch(ctx context.Context, route string, body []byte, result interface{}) error
	SetTokenSource(src transport.TokenSource)
}

// tokenTransport is what the token service needs from the transport
type tokenTransport interface {
	Get(ctx context.Context, target string) (*transport.RawResponse, error)
	Resolve(ref string) (*url.URL, error)
	BaseURL() *url.URL
	Cookie(target *url.URL, name string) (string, bool)
	SetCookie(target *url.URL, cookie *http.Cookie)
}

// executor is the raw send path the gate uses; it skips the 401
// re-verification that Client.Do adds.
type executor interface {
	execute(ctx context.Context, env *Envelope, result interface{}) error
}
