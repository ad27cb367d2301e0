package bundleware

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxbundle/pkg/bundler"
)

// manualScheduler queues deferred work until the test runs it.
type manualScheduler struct {
	mu    sync.Mutex
	queue []func()
}

func (s *manualScheduler) schedule(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, f)
}

func (s *manualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// runAll runs queued work, including work queued while running.
func (s *manualScheduler) runAll() int {
	n := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return n
		}
		f := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		f()
		n++
	}
}

type fakeOutcome struct {
	code   string
	err    error
	inputs []string
}

// fakeBuild blocks every build until the test releases it.
type fakeBuild struct {
	calls   atomic.Int32
	started chan struct{}
	results chan fakeOutcome
}

func newFakeBuild() *fakeBuild {
	return &fakeBuild{
		started: make(chan struct{}, 16),
		results: make(chan fakeOutcome),
	}
}

func (f *fakeBuild) build(ctx context.Context) (*bundler.Result, error) {
	f.calls.Add(1)
	f.started <- struct{}{}
	select {
	case out := <-f.results:
		if out.err != nil {
			return nil, out.err
		}
		return &bundler.Result{Code: out.code, Inputs: out.inputs}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeBuild) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("build did not start")
	}
}

func (f *fakeBuild) assertNotStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.started:
		t.Fatal("unexpected build started")
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *fakeBuild) succeed(code string) { f.results <- fakeOutcome{code: code} }

func (f *fakeBuild) succeedWith(code string, inputs ...string) {
	f.results <- fakeOutcome{code: code, inputs: inputs}
}

func (f *fakeBuild) fail(err error) { f.results <- fakeOutcome{err: err} }

// newTestMiddleware builds a middleware backed by fb and a manual scheduler.
// Fatal escalation fails the test unless opts overrides it.
func newTestMiddleware(t *testing.T, opts Options, setup SetupFunc) (*Middleware, *fakeBuild, *manualScheduler) {
	t.Helper()
	fb := newFakeBuild()
	sched := &manualScheduler{}
	opts.Scheduler = sched.schedule
	if opts.Fatal == nil {
		opts.Fatal = func(err error) {
			t.Errorf("unexpected fatal escalation: %v", err)
		}
	}
	if opts.WorkingDir == "" {
		opts.WorkingDir = t.TempDir()
	}

	m, err := newMiddleware(Files{}, opts, setup, fb.build)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, fb, sched
}

// startRequest calls Result in the background.
func startRequest(m *Middleware) <-chan fakeOutcome {
	ch := make(chan fakeOutcome, 1)
	go func() {
		code, err := m.Result(context.Background())
		ch <- fakeOutcome{code: code, err: err}
	}()
	return ch
}

func receive(t *testing.T, ch <-chan fakeOutcome) fakeOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("request did not settle")
		return fakeOutcome{}
	}
}

func waitForWaiters(t *testing.T, m *Middleware, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Status().Waiting == n
	}, 2*time.Second, 5*time.Millisecond)
}

func waitForState(t *testing.T, m *Middleware, state State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Status().State == state
	}, 2*time.Second, 5*time.Millisecond)
}
