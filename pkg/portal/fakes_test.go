package portal

import (
	"context"
	"encoding/json"
	"sync"
)

type fakeReply struct {
	body string
	err  error
}

type fakeCall struct {
	ctx   context.Context
	env   *Envelope
	reply chan fakeReply
}

// fakeExecutor hands every request to the test and blocks until the test
// answers it. It ignores cancellation unless honorCancel is set, so tests
// can prove that stale answers are dropped by the dispatcher itself.
type fakeExecutor struct {
	honorCancel bool
	calls       chan *fakeCall

	mu    sync.Mutex
	count int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{calls: make(chan *fakeCall, 64)}
}

func (f *fakeExecutor) Do(ctx context.Context, env *Envelope, result interface{}) error {
	call := &fakeCall{ctx: ctx, env: env, reply: make(chan fakeReply, 1)}

	f.mu.Lock()
	f.count++
	f.mu.Unlock()

	f.calls <- call

	var r fakeReply
	if f.honorCancel {
		select {
		case r = <-call.reply:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		r = <-call.reply
	}

	if r.err != nil {
		return r.err
	}
	if r.body == "" || result == nil {
		return nil
	}
	return json.Unmarshal([]byte(r.body), result)
}

func (f *fakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// fakeGateExecutor answers gate operations by route
type fakeGateExecutor struct {
	mu      sync.Mutex
	replies map[string]fakeReply
	seen    []string
	block   chan struct{}
}

func newFakeGateExecutor() *fakeGateExecutor {
	return &fakeGateExecutor{replies: make(map[string]fakeReply)}
}

func (f *fakeGateExecutor) on(route, body string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[route] = fakeReply{body: body, err: err}
}

func (f *fakeGateExecutor) routes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func (f *fakeGateExecutor) execute(ctx context.Context, env *Envelope, result interface{}) error {
	f.mu.Lock()
	f.seen = append(f.seen, env.Route())
	r := f.replies[env.Route()]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if r.err != nil {
		return r.err
	}
	if r.body == "" || result == nil {
		return nil
	}
	return json.Unmarshal([]byte(r.body), result)
}

type recordingNavigator struct {
	mu      sync.Mutex
	targets []string
}

func (n *recordingNavigator) Redirect(target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
}

func (n *recordingNavigator) Targets() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}
