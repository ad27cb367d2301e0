package bundleware

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle phase of a bundle cache.
type State int

const (
	// StateIdle means no build has been requested yet.
	StateIdle State = iota
	// StateBuilding means a build is in flight.
	StateBuilding
	// StateSettled means the last build finished, with output or an error.
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// trigger names what started a build.
type trigger string

const (
	triggerPrecompile trigger = "precompile"
	triggerRequest    trigger = "request"
	triggerWatch      trigger = "watch"
	triggerManual     trigger = "manual"
)

// Status is a point-in-time snapshot of a bundle cache.
type Status struct {
	State     State
	Builds    int
	Waiting   int
	Bytes     int
	LastError error
	LastBuild time.Time
}

type compileFunc func(ctx context.Context, reason trigger) (string, error)

type settlement struct {
	reason  trigger
	code    string
	err     error
	waiters int
}

type result struct {
	code string
	err  error
}

// cache runs at most one compile at a time and holds requests that arrive
// before any result exists. Exactly one of output and lastErr is set once
// a build has settled; a rebuild leaves both in place until it finishes.
type cache struct {
	compile  compileFunc
	onSettle func(settlement)
	onQueue  func(n int) // runs under mu so counts publish in order

	mu        sync.Mutex
	state     State
	triggered bool
	stale     bool
	builds    int
	output    string
	hasOutput bool
	lastErr   error
	lastBuild time.Time
	waiters   []func()
}

func newCache(compile compileFunc, onSettle func(settlement), onQueue func(int)) *cache {
	return &cache{
		compile:  compile,
		onSettle: onSettle,
		onQueue:  onQueue,
	}
}

// beginLocked moves the cache to Building and reports whether the caller
// must start a compile. A watch trigger during a build marks the result
// stale so exactly one more build follows it. The caller holds c.mu.
func (c *cache) beginLocked(reason trigger) bool {
	c.triggered = true
	if c.state == StateBuilding {
		if reason == triggerWatch {
			c.stale = true
		}
		return false
	}
	c.state = StateBuilding
	c.builds++
	return true
}

// trigger starts a build unless one is already in flight.
func (c *cache) trigger(reason trigger) bool {
	c.mu.Lock()
	start := c.beginLocked(reason)
	c.mu.Unlock()

	if start {
		go c.run(reason)
	}
	return start
}

// triggerIfIdle starts a build only if none has ever been requested.
func (c *cache) triggerIfIdle(reason trigger) bool {
	c.mu.Lock()
	if c.triggered {
		c.mu.Unlock()
		return false
	}
	start := c.beginLocked(reason)
	c.mu.Unlock()

	if start {
		go c.run(reason)
	}
	return start
}

// lookup returns the settled result, or queues replay and reports false
// when there is none yet. The first lookup on an idle cache starts a build.
func (c *cache) lookup(replay func()) (result, bool) {
	c.mu.Lock()
	start := false
	if !c.triggered {
		start = c.beginLocked(triggerRequest)
	}

	var (
		res    result
		served = true
	)
	switch {
	case c.lastErr != nil:
		res.err = c.lastErr
	case c.hasOutput:
		res.code = c.output
	default:
		c.waiters = append(c.waiters, replay)
		served = false
		c.publishQueueLocked()
	}
	c.mu.Unlock()

	if start {
		go c.run(triggerRequest)
	}
	return res, served
}

func (c *cache) run(reason trigger) {
	code, err := c.compile(context.Background(), reason)
	c.settle(reason, code, err)
}

// settle records the outcome, notifies the settle hook, then replays every
// waiter in arrival order.
func (c *cache) settle(reason trigger, code string, err error) {
	c.mu.Lock()
	if err != nil {
		c.lastErr = err
		c.output = ""
		c.hasOutput = false
	} else {
		c.lastErr = nil
		c.output = code
		c.hasOutput = true
	}
	c.state = StateSettled
	c.lastBuild = time.Now()
	waiters := c.waiters
	c.waiters = nil
	rerun := c.stale
	c.stale = false
	if len(waiters) > 0 {
		c.publishQueueLocked()
	}
	c.mu.Unlock()

	if c.onSettle != nil {
		c.onSettle(settlement{reason: reason, code: code, err: err, waiters: len(waiters)})
	}
	for _, replay := range waiters {
		replay()
	}
	if rerun {
		c.trigger(triggerWatch)
	}
}

// publishQueueLocked reports the waiter count. The caller holds c.mu.
func (c *cache) publishQueueLocked() {
	if c.onQueue != nil {
		c.onQueue(len(c.waiters))
	}
}

func (c *cache) status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		Builds:    c.builds,
		Waiting:   len(c.waiters),
		Bytes:     len(c.output),
		LastError: c.lastErr,
		LastBuild: c.lastBuild,
	}
}
