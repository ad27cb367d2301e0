// Package watch turns filesystem notifications for a set of bundle inputs
// into debounced update events.
package watch

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce batches editor save bursts into one update.
const DefaultDebounce = 100 * time.Millisecond

// Watcher watches the parent directories of a file set and reports changes
// to files in that set. fsnotify is directory-based, so unrelated files in
// the same directories are filtered out.
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	files    map[string]struct{}
	dirs     map[string]struct{}
	pending  map[string]struct{}
	timer    *time.Timer
	debounce time.Duration
	notify   func(ids []string)

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool

	stats Stats
}

// Stats counts watcher activity.
type Stats struct {
	Events        int
	Updates       int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// New creates a watcher that calls notify with the sorted list of changed
// files once no further change arrived for the debounce interval.
func New(debounce time.Duration, notify func(ids []string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fsw:      fsw,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		pending:  make(map[string]struct{}),
		debounce: debounce,
		notify:   notify,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins delivering events. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop stops event delivery, cancels a pending update and closes the
// underlying fsnotify watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.fsw.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close file watcher")
	}
}

// Set replaces the watched file set. Directories no longer needed are
// dropped; a directory that cannot be watched is logged and skipped.
func (w *Watcher) Set(files []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	nextFiles := make(map[string]struct{}, len(files))
	nextDirs := make(map[string]struct{})
	for _, f := range files {
		f = filepath.Clean(f)
		nextFiles[f] = struct{}{}
		nextDirs[filepath.Dir(f)] = struct{}{}
	}

	for dir := range w.dirs {
		if _, keep := nextDirs[dir]; keep {
			continue
		}
		if err := w.fsw.Remove(dir); err != nil {
			log.Debug().Err(err).Str("dir", dir).Msg("Failed to unwatch directory")
		}
		delete(w.dirs, dir)
	}
	for dir := range nextDirs {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to watch directory")
			continue
		}
		w.dirs[dir] = struct{}{}
	}
	w.files = nextFiles

	log.Debug().Int("files", len(w.files)).Int("dirs", len(w.dirs)).Msg("Watch set updated")
}

// Files returns the watched files in sorted order.
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("File watcher error")
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	name := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.files[name]; !ok || !w.running {
		return
	}

	w.stats.Events++
	w.stats.LastEventPath = name
	w.stats.LastEventTime = time.Now()
	w.pending[name] = struct{}{}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// flush delivers the pending batch.
func (w *Watcher) flush() {
	w.mu.Lock()
	if !w.running || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	w.pending = make(map[string]struct{})
	w.timer = nil
	w.stats.Updates++
	w.mu.Unlock()

	sort.Strings(ids)
	log.Debug().Strs("files", ids).Msg("Watched files changed")
	w.notify(ids)
}
