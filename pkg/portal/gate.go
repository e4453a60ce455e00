package portal

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// GateState is where the session gate is in its verification cycle
type GateState int

const (
	StateUnverified GateState = iota
	StateVerifying
	StateAuthenticated
	StateUnauthenticated
)

func (s GateState) String() string {
	switch s {
	case StateUnverified:
		return "unverified"
	case StateVerifying:
		return "verifying"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Decision is the gate's answer to a navigation
type Decision int

const (
	// DecisionAllow lets the view render
	DecisionAllow Decision = iota

	// DecisionRedirect sends the viewer to the login route
	DecisionRedirect
)

type gateConfig struct {
	routes    OperationRoutes
	loginPath string
	exempt    []string
	navigator Navigator
	logger    Logger
}

type verifyCall struct {
	done chan struct{}
	err  error

	// abandoned is set when the caller running the check gave up on it
	abandoned bool
}

// Gate owns the viewer's session. It is the only writer of Session; views
// read it through Session/User/Role or a SessionHandle.
type Gate struct {
	exec      executor
	routes    OperationRoutes
	loginPath string
	exempt    []string
	navigator Navigator
	logger    Logger

	mu          sync.Mutex
	state       GateState
	session     Session
	inflight    *verifyCall
	logoutErr   error
	observers   map[int]func(Session, GateState)
	nextObserve int
}

func newGate(exec executor, cfg gateConfig) *Gate {
	defaults := DefaultRoutes()
	if cfg.routes.Identity == "" {
		cfg.routes.Identity = defaults.Identity
	}
	if cfg.routes.Logout == "" {
		cfg.routes.Logout = defaults.Logout
	}
	if cfg.routes.Login == "" {
		cfg.routes.Login = defaults.Login
	}
	if cfg.loginPath == "" {
		cfg.loginPath = DefaultLoginPath
	}
	if cfg.exempt == nil {
		cfg.exempt = DefaultExemptPaths
	}

	return &Gate{
		exec:      exec,
		routes:    cfg.routes,
		loginPath: cfg.loginPath,
		exempt:    cfg.exempt,
		navigator: cfg.navigator,
		logger:    cfg.logger,
		observers: make(map[int]func(Session, GateState)),
	}
}

// State returns the current gate state
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Session returns a copy of the current session
func (g *Gate) Session() Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// User returns the authenticated username, empty when there is none
func (g *Gate) User() string {
	return g.Session().Username
}

// Role returns the authenticated role, empty when there is none
func (g *Gate) Role() string {
	return g.Session().Role
}

// LastLogoutError returns why the most recent logout failed, nil after a
// successful one
func (g *Gate) LastLogoutError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.logoutErr
}

// Subscribe registers fn to be called after every state change. The
// returned func removes it.
func (g *Gate) Subscribe(fn func(Session, GateState)) func() {
	g.mu.Lock()
	id := g.nextObserve
	g.nextObserve++
	g.observers[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.observers, id)
		g.mu.Unlock()
	}
}

// IsExempt reports whether route bypasses verification
func (g *Gate) IsExempt(route string) bool {
	path := route
	if u, err := url.Parse(route); err == nil {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}
	for _, exempt := range g.exempt {
		exempt = strings.TrimRight(exempt, "/")
		if path == exempt || strings.HasPrefix(path, exempt+"/") {
			return true
		}
	}
	return false
}

// Navigate is called whenever the active route changes. Exempt routes pass
// untouched; every other route triggers a verification.
func (g *Gate) Navigate(ctx context.Context, route string) Decision {
	if g.IsExempt(route) {
		return DecisionAllow
	}

	if err := g.Verify(ctx); err != nil && g.logger != nil {
		g.logger.Warn("Session verification failed", "route", route, "error", err)
	}

	if g.State() == StateAuthenticated {
		return DecisionAllow
	}
	return DecisionRedirect
}

// Verify runs the identity check. A 401 or a negative answer is the normal
// "not authenticated" outcome and returns nil; transport failures are
// returned but still leave the gate unauthenticated. Concurrent callers
// share one in-flight check.
func (g *Gate) Verify(ctx context.Context) error {
	return g.verify(ctx, true)
}

func (g *Gate) verify(ctx context.Context, redirect bool) error {
	g.mu.Lock()
	for g.inflight != nil {
		call := g.inflight
		g.mu.Unlock()
		select {
		case <-call.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		// A check abandoned by its owner answers nothing; run our own
		if !call.abandoned || ctx.Err() != nil {
			return call.err
		}
		g.mu.Lock()
	}

	call := &verifyCall{done: make(chan struct{})}
	g.inflight = call
	previous := g.state
	g.state = StateVerifying
	g.mu.Unlock()
	g.notify()

	var raw json.RawMessage
	err := g.exec.execute(ctx, MustEnvelope(g.routes.Identity, nil), &raw)

	g.mu.Lock()
	g.inflight = nil
	call.abandoned = err != nil && (IsCanceled(err) || ctx.Err() != nil)
	switch {
	case call.abandoned:
		// An abandoned check proves nothing either way
		g.state = previous
	case err == nil && gjson.GetBytes(raw, "isAuthenticated").Bool() && gjson.GetBytes(raw, "username").String() != "":
		g.state = StateAuthenticated
		g.setUser(gjson.GetBytes(raw, "username").String())
		g.setRole(gjson.GetBytes(raw, "role").String())
	default:
		g.state = StateUnauthenticated
		g.session = Session{}
	}
	state := g.state

	if errors.Is(err, ErrNotAuthenticated) {
		err = nil
	}
	call.err = err
	close(call.done)
	g.mu.Unlock()

	g.notify()

	if g.logger != nil {
		g.logger.Debug("Session verified", "state", state.String())
	}

	if state == StateUnauthenticated && redirect {
		g.redirectToLogin()
	}

	return err
}

// Logout ends the backend session. The session is cleared only when the
// backend declares success; a declared failure leaves it untouched and is
// returned as *LogoutError. Nothing is retried.
func (g *Gate) Logout(ctx context.Context) (*LogoutResult, error) {
	var result LogoutResult
	if err := g.exec.execute(ctx, MustEnvelope(g.routes.Logout, nil), &result); err != nil {
		g.mu.Lock()
		g.logoutErr = err
		g.mu.Unlock()
		return nil, pkgerrors.Wrap(err, "logout request failed")
	}

	if !result.Success {
		lerr := &LogoutError{Detail: result.Detail}
		g.mu.Lock()
		g.logoutErr = lerr
		g.mu.Unlock()
		if g.logger != nil {
			g.logger.Warn("Logout refused", "detail", result.Detail)
		}
		return &result, lerr
	}

	g.mu.Lock()
	g.session = Session{}
	g.state = StateUnauthenticated
	g.logoutErr = nil
	g.mu.Unlock()

	g.notify()

	if g.logger != nil {
		g.logger.Info("Logged out")
	}

	g.redirectToLogin()
	return &result, nil
}

// Login starts a backend session and re-verifies identity with it
func (g *Gate) Login(ctx context.Context, username, password string) error {
	env, err := NewEnvelope(g.routes.Login, map[string]interface{}{
		"username": username,
		"password": password,
	})
	if err != nil {
		return err
	}

	if err := g.exec.execute(ctx, env, nil); err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			return ErrLoginFailed
		}
		return pkgerrors.Wrap(err, "login request failed")
	}

	// Staying on the login route, so no redirect on failure
	if err := g.verify(ctx, false); err != nil {
		return err
	}

	if g.State() != StateAuthenticated {
		return ErrLoginFailed
	}

	if g.logger != nil {
		g.logger.Info("Login successful", "username", username)
	}
	return nil
}

// Handle returns the narrow capability views get: read access plus logout
func (g *Gate) Handle() SessionHandle {
	return SessionHandle{gate: g}
}

// setUser and setRole must be called with g.mu held
func (g *Gate) setUser(username string) {
	g.session.IsAuthenticated = username != ""
	g.session.Username = username
}

func (g *Gate) setRole(role string) {
	g.session.Role = role
}

func (g *Gate) redirectToLogin() {
	if g.navigator != nil {
		g.navigator.Redirect(g.loginPath)
	}
}

func (g *Gate) notify() {
	g.mu.Lock()
	session, state := g.session, g.state
	observers := make([]func(Session, GateState), 0, len(g.observers))
	for _, fn := range g.observers {
		observers = append(observers, fn)
	}
	g.mu.Unlock()

	for _, fn := range observers {
		fn(session, state)
	}
}

// SessionHandle is a read-only view of the gate that can also request a
// logout
type SessionHandle struct {
	gate *Gate
}

// User returns the authenticated username
func (h SessionHandle) User() string {
	return h.gate.User()
}

// Role returns the authenticated role
func (h SessionHandle) Role() string {
	return h.gate.Role()
}

// IsAuthenticated reports whether the gate holds a verified session
func (h SessionHandle) IsAuthenticated() bool {
	return h.gate.State() == StateAuthenticated
}

// HandleLogout asks the gate to log out
func (h SessionHandle) HandleLogout(ctx context.Context) error {
	_, err := h.gate.Logout(ctx)
	return err
}
