package bundler

import "sync"

type emitter struct {
	mu      sync.RWMutex
	bundled []func(code string)
	update  []func(ids []string)
}

// OnBundled registers fn to receive the final bundle text after every
// successful build.
func (b *Bundler) OnBundled(fn func(code string)) {
	b.events.mu.Lock()
	defer b.events.mu.Unlock()
	b.events.bundled = append(b.events.bundled, fn)
}

// OnUpdate registers fn to receive the changed file paths whenever a watched
// source changes. Updates are only emitted in watch mode.
func (b *Bundler) OnUpdate(fn func(ids []string)) {
	b.events.mu.Lock()
	defer b.events.mu.Unlock()
	b.events.update = append(b.events.update, fn)
}

// EmitBundled notifies bundled listeners in registration order.
func (b *Bundler) EmitBundled(code string) {
	b.events.mu.RLock()
	fns := append(([]func(string))(nil), b.events.bundled...)
	b.events.mu.RUnlock()
	for _, fn := range fns {
		fn(code)
	}
}

// EmitUpdate notifies update listeners in registration order.
func (b *Bundler) EmitUpdate(ids []string) {
	b.events.mu.RLock()
	fns := append(([]func([]string))(nil), b.events.update...)
	b.events.mu.RUnlock()
	for _, fn := range fns {
		fn(ids)
	}
}
