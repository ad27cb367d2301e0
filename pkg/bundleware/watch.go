package bundleware

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxbundle/internal/watch"
	"github.com/fluxbase-eu/fluxbundle/pkg/bundler"
)

// startWatch watches the entry files now and the full input set after each
// build. Every update schedules a rebuild on a later turn.
func (m *Middleware) startWatch() error {
	w, err := watch.New(m.opts.Debounce, m.bundler.EmitUpdate)
	if err != nil {
		return fmt.Errorf("failed to start bundle watcher: %w", err)
	}
	w.Set(m.bundler.Files())
	w.Start(m.ctx)
	m.watcher = w

	m.bundler.OnUpdate(func(ids []string) {
		log.Debug().Strs("files", ids).Msg("Bundle inputs changed, scheduling rebuild")
		m.opts.Scheduler(func() {
			m.cache.trigger(triggerWatch)
		})
	})
	return nil
}

// watchFailed keeps the last good input set under watch and adds the files
// a failed build points at, which may never have built before.
func (m *Middleware) watchFailed(err error) {
	var be *bundler.BuildError
	if m.watcher == nil || !errors.As(err, &be) {
		return
	}
	var last []string
	if p := m.inputs.Load(); p != nil {
		last = *p
	}
	m.watcher.Set(append(append(append([]string(nil), last...), be.Files...), m.bundler.Files()...))
}

// WatchStats reports watcher counters, or false when watching is off.
func (m *Middleware) WatchStats() (watch.Stats, bool) {
	if m.watcher == nil {
		return watch.Stats{}, false
	}
	return m.watcher.Stats(), true
}
