// Package bundleware serves an esbuild bundle over HTTP. It owns the bundle
// lifecycle (precompile, single-flight builds, watch rebuilds) and exposes
// Fiber and net/http handlers that hold requests until a build settles.
package bundleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxbundle/internal/observability"
	"github.com/fluxbase-eu/fluxbundle/internal/watch"
	"github.com/fluxbase-eu/fluxbundle/pkg/bundler"
)

// ErrClosed is returned to waiting requests once the middleware is closed.
var ErrClosed = errors.New("bundle middleware closed")

type buildFunc func(ctx context.Context) (*bundler.Result, error)

// Middleware is one mounted bundle.
type Middleware struct {
	opts    Options
	bundler *bundler.Bundler
	build   buildFunc
	cache   *cache
	watcher *watch.Watcher
	metrics *observability.Metrics
	sizes   atomic.Pointer[map[string]int]
	inputs  atomic.Pointer[[]string] // inputs of the last successful build

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates the bundler for files, applies opts, runs setup and, unless
// setup returned false or Precompile is off, schedules the first build.
func New(files Files, opts Options, setup SetupFunc) (*Middleware, error) {
	return newMiddleware(files, opts, setup, nil)
}

// FromArgs resolves a loosely typed argument list and calls New.
func FromArgs(args ...any) (*Middleware, error) {
	a, err := Resolve(args...)
	if err != nil {
		return nil, err
	}
	return New(a.Files, a.Options, a.Setup)
}

func newMiddleware(files Files, opts Options, setup SetupFunc, build buildFunc) (*Middleware, error) {
	opts = opts.resolve()

	streams, err := readStreams(files.Streams)
	if err != nil {
		return nil, err
	}

	b, err := bundler.New(files.Paths, streams, opts.Config)
	if err != nil {
		return nil, err
	}
	if len(opts.Require) > 0 {
		b.Require(opts.Require...)
	}
	if len(opts.External) > 0 {
		b.External(opts.External...)
	}
	if len(opts.Ignore) > 0 {
		b.Ignore(opts.Ignore...)
	}
	if len(opts.Exclude) > 0 {
		b.Exclude(opts.Exclude...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Middleware{
		opts:    opts,
		bundler: b,
		build:   build,
		ctx:     ctx,
		cancel:  cancel,
	}
	if m.build == nil {
		m.build = b.Build
	}
	if opts.Registerer != nil {
		m.metrics = observability.NewMetrics(opts.Registerer)
	}
	m.cache = newCache(m.compile, m.settled, m.metrics.SetWaiters)

	if opts.watch() {
		if err := m.startWatch(); err != nil {
			m.Close()
			return nil, err
		}
	}

	proceed := true
	if setup != nil {
		proceed = setup(b)
	}
	if proceed && opts.precompile() {
		opts.Scheduler(func() {
			m.cache.triggerIfIdle(triggerPrecompile)
		})
	}
	return m, nil
}

func readStreams(readers []io.Reader) ([]string, error) {
	if len(readers) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(readers))
	for i, r := range readers {
		var sb strings.Builder
		if _, err := io.Copy(&sb, r); err != nil {
			return nil, fmt.Errorf("failed to read bundle stream %d: %w", i, err)
		}
		out = append(out, sb.String())
	}
	return out, nil
}

// Bundler returns the underlying bundler for registering extra listeners
// or entries.
func (m *Middleware) Bundler() *bundler.Bundler {
	return m.bundler
}

// Options returns the resolved options.
func (m *Middleware) Options() Options {
	return m.opts
}

// Status returns a snapshot of the build cache.
func (m *Middleware) Status() Status {
	return m.cache.status()
}

// Rebuild starts a build unless one is in flight or the middleware is
// closed. The previous result keeps being served until it settles.
func (m *Middleware) Rebuild() bool {
	if m.ctx.Err() != nil {
		return false
	}
	return m.cache.trigger(triggerManual)
}

// Result waits for the first settled build and returns its output or error.
// A settled result is returned without waiting even while a rebuild runs.
func (m *Middleware) Result(ctx context.Context) (string, error) {
	for {
		if m.ctx.Err() != nil {
			return "", ErrClosed
		}
		ready := make(chan struct{})
		res, ok := m.cache.lookup(func() { close(ready) })
		if ok {
			return res.code, res.err
		}

		select {
		case <-ready:
		case <-m.ctx.Done():
			return "", ErrClosed
		case <-ctx.Done():
			if m.ctx.Err() != nil {
				return "", ErrClosed
			}
			return "", ctx.Err()
		}
	}
}

// Sizes reports how many bytes each input file contributed to the last
// successful build, before any transform ran. It is nil before the first
// build succeeds.
func (m *Middleware) Sizes() map[string]int {
	if p := m.sizes.Load(); p != nil {
		return *p
	}
	return nil
}

// Close stops watching and releases the bundler. Waiting requests fail
// with ErrClosed; a build in flight finishes on its own.
func (m *Middleware) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		if m.watcher != nil {
			m.watcher.Stop()
		}
		m.bundler.Close()
	})
}

func (m *Middleware) compile(ctx context.Context, reason trigger) (string, error) {
	if m.ctx.Err() != nil {
		return "", ErrClosed
	}
	buildID := uuid.NewString()
	ctx, span := observability.StartBuildSpan(ctx, buildID, string(reason))

	if m.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.BuildTimeout)
		defer cancel()
	}

	logger := log.With().
		Str("build_id", buildID).
		Str("trigger", string(reason)).
		Logger()
	logger.Debug().Msg("Bundle build started")

	m.metrics.BuildStarted()
	start := time.Now()
	code, err := m.compileOutput(ctx)
	duration := time.Since(start)

	m.metrics.RecordBuild(string(reason), duration, len(code), err)
	observability.EndBuildSpan(span, len(code), err)

	if err != nil {
		logger.Error().Err(err).Dur("duration", duration).Msg("Bundle build failed")
		return "", err
	}
	logger.Info().Dur("duration", duration).Int("bytes", len(code)).Msg("Bundle built")
	return code, nil
}

func (m *Middleware) compileOutput(ctx context.Context) (string, error) {
	res, err := m.build(ctx)
	if err != nil {
		m.watchFailed(err)
		return "", err
	}

	if m.watcher != nil {
		m.watcher.Set(append(append([]string(nil), res.Inputs...), m.bundler.Files()...))
	}
	m.inputs.Store(&res.Inputs)
	m.sizes.Store(&res.Sizes)

	code, err := m.opts.Transforms.Apply(ctx, m.opts.Mutate, res.Code, m.opts.Record())
	if err != nil {
		return "", fmt.Errorf("failed to transform bundle with %q: %w", m.opts.Mutate, err)
	}
	return code, nil
}

// settled emits the bundled event on success. A failed precompile that
// nothing waits for and nothing observes is fatal.
func (m *Middleware) settled(s settlement) {
	if s.err == nil {
		m.bundler.EmitBundled(s.code)
		return
	}
	if errors.Is(s.err, ErrClosed) {
		return
	}
	if m.opts.OnError != nil {
		m.opts.OnError(s.err)
		return
	}
	if s.reason == triggerPrecompile && s.waiters == 0 {
		m.opts.Fatal(s.err)
	}
}
