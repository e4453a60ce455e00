package portal

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is what a dispatcher reports to its view
type State[T any] struct {
	// Response is the decoded body of the last successful request
	Response T

	// HasResponse is true once any request has succeeded
	HasResponse bool

	// Loading is true while the live request is outstanding
	Loading bool

	// Err is the message of the last failed request, empty otherwise
	Err string

	// Elapsed is the wall-clock duration of the last settled request
	Elapsed time.Duration

	// Payload is the envelope of the live or last settled request
	Payload *Envelope
}

// DispatchOption configures a Dispatcher
type DispatchOption func(*dispatchSettings)

type dispatchSettings struct {
	timeout time.Duration
	logger  Logger
}

// WithTimeout bounds each request. Without it a request runs until it is
// superseded or the dispatcher is closed.
func WithTimeout(d time.Duration) DispatchOption {
	return func(s *dispatchSettings) {
		s.timeout = d
	}
}

// WithLogger sets the dispatcher's logger
func WithLogger(l Logger) DispatchOption {
	return func(s *dispatchSettings) {
		s.logger = l
	}
}

type lifecycle struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (l *lifecycle) settle() {
	l.once.Do(func() { close(l.done) })
}

// Dispatcher is the per-view data fetching primitive. It keeps at most one
// live request: submitting a different envelope cancels the previous one,
// and a superseded request never writes state.
type Dispatcher[T any] struct {
	exec     Executor
	settings dispatchSettings
	now      func() time.Time

	mu       sync.Mutex
	state    State[T]
	current  uint64
	version  uint64
	live     *lifecycle
	lastKey  string
	started  bool
	closed   bool
	onChange func(State[T])

	emitMu      sync.Mutex
	lastEmitted uint64
}

// NewDispatcher creates a dispatcher that sends through exec
func NewDispatcher[T any](exec Executor, opts ...DispatchOption) *Dispatcher[T] {
	d := &Dispatcher[T]{
		exec: exec,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(&d.settings)
	}
	return d
}

// OnChange registers fn to receive every committed state
func (d *Dispatcher[T]) OnChange(fn func(State[T])) {
	d.mu.Lock()
	d.onChange = fn
	d.mu.Unlock()
}

// State returns a snapshot of the current state
func (d *Dispatcher[T]) State() State[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Submit hands the dispatcher a new payload. A nil envelope means "not
// ready yet" and changes nothing. An envelope that serializes the same as
// the last one is ignored.
func (d *Dispatcher[T]) Submit(env *Envelope) {
	if env == nil {
		return
	}

	d.mu.Lock()
	if d.closed || (d.started && env.Key() == d.lastKey) {
		d.mu.Unlock()
		return
	}
	d.lastKey = env.Key()
	d.started = true
	d.start(env)
}

// Refresh re-sends the last submitted envelope even though it is unchanged
func (d *Dispatcher[T]) Refresh() {
	d.mu.Lock()
	if d.closed || d.state.Payload == nil {
		d.mu.Unlock()
		return
	}
	d.start(d.state.Payload)
}

// start begins a new lifecycle. It must be called with d.mu held and
// releases it.
func (d *Dispatcher[T]) start(env *Envelope) {
	previous := d.live
	if previous != nil {
		previous.cancel()
	}

	d.current++
	ctx, cancel := context.WithCancel(context.Background())
	if d.settings.timeout > 0 {
		ctx, cancel = withTimeout(ctx, cancel, d.settings.timeout)
	}
	lc := &lifecycle{
		id:     d.current,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	d.live = lc

	d.state.Loading = true
	d.state.Err = ""
	d.state.Payload = env
	started := d.now()
	snapshot, version := d.commit()
	d.mu.Unlock()

	if previous != nil {
		previous.settle()
	}
	d.emit(snapshot, version)

	go d.run(ctx, lc, env, started)
}

func withTimeout(parent context.Context, cancelParent context.CancelFunc, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		cancel()
		cancelParent()
	}
}

func (d *Dispatcher[T]) run(ctx context.Context, lc *lifecycle, env *Envelope, started time.Time) {
	defer lc.settle()

	var out T
	err := d.exec.Do(ctx, env, &out)
	elapsed := d.now().Sub(started)

	d.mu.Lock()
	if d.closed || lc.id != d.current {
		d.mu.Unlock()
		if d.settings.logger != nil {
			d.settings.logger.Debug("Discarded superseded result", "route", env.Route(), "lifecycle", lc.id)
		}
		return
	}

	// Only our own cancellation is silent; a cancelled error from a shared
	// dependency while this request is still current is a failure like any other.
	if errors.Is(ctx.Err(), context.Canceled) {
		d.mu.Unlock()
		return
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ErrTimeout
		}
		d.state.Err = err.Error()
	} else {
		d.state.Response = out
		d.state.HasResponse = true
	}
	d.state.Loading = false
	d.state.Elapsed = elapsed
	lc.cancel()
	d.live = nil
	snapshot, version := d.commit()
	d.mu.Unlock()

	if err != nil && d.settings.logger != nil {
		d.settings.logger.Debug("Dispatch failed", "route", env.Route(), "error", err, "elapsed", elapsed)
	}

	d.emit(snapshot, version)
}

// commit stamps the current state; d.mu must be held
func (d *Dispatcher[T]) commit() (State[T], uint64) {
	d.version++
	return d.state, d.version
}

func (d *Dispatcher[T]) emit(snapshot State[T], version uint64) {
	d.mu.Lock()
	fn := d.onChange
	d.mu.Unlock()
	if fn == nil {
		return
	}

	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	if version <= d.lastEmitted {
		return
	}
	d.lastEmitted = version
	fn(snapshot)
}

// Wait blocks until the live request settles and returns the resulting
// state. If the request is superseded while waiting, Wait follows the new
// one. It never reports a loading state as settled: a closed dispatcher
// returns ErrClosed.
func (d *Dispatcher[T]) Wait(ctx context.Context) (State[T], error) {
	for {
		d.mu.Lock()
		lc := d.live
		if lc == nil {
			state := d.state
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return state, ErrClosed
			}
			return state, nil
		}
		d.mu.Unlock()

		select {
		case <-lc.done:
		case <-ctx.Done():
			return d.State(), ctx.Err()
		}

		d.mu.Lock()
		if d.closed {
			state := d.state
			d.mu.Unlock()
			return state, ErrClosed
		}
		if d.live == lc {
			// Settled without committing a result
			d.live = nil
			d.state.Loading = false
			d.state.Err = context.Canceled.Error()
			snapshot, version := d.commit()
			d.mu.Unlock()
			d.emit(snapshot, version)
			return snapshot, context.Canceled
		}
		d.mu.Unlock()
	}
}

// Close cancels the live request. Later submissions are ignored.
func (d *Dispatcher[T]) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	lc := d.live
	d.live = nil
	d.state.Loading = false
	d.mu.Unlock()

	if lc != nil {
		lc.cancel()
		lc.settle()
	}
}
