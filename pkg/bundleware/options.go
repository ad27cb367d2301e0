package bundleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxbundle/pkg/bundler"
	"github.com/fluxbase-eu/fluxbundle/pkg/mutate"
)

// Scheduler runs f on a later turn, never synchronously.
type Scheduler func(f func())

func goScheduler(f func()) { go f() }

// Options configures one mounted bundle. The adapter reads Watch,
// Precompile, Mutate, Require, External, Ignore and Exclude itself; the
// embedded engine Config goes to esbuild.
type Options struct {
	bundler.Config `mapstructure:",squash"`

	Watch        *bool         `mapstructure:"watch"`      // nil means false
	Precompile   *bool         `mapstructure:"precompile"` // nil means true
	Mutate       string        `mapstructure:"mutate"`
	Require      []string      `mapstructure:"require"`
	External     []string      `mapstructure:"external"`
	Ignore       []string      `mapstructure:"ignore"`
	Exclude      []string      `mapstructure:"exclude"`
	Debounce     time.Duration `mapstructure:"debounce"`
	BuildTimeout time.Duration `mapstructure:"build_timeout"`

	// Settings holds keys the adapter does not recognize. They are handed
	// to the output transform with the rest of the record.
	Settings map[string]any `mapstructure:",remain"`

	// Defaults, when set, is merged under these options at construction.
	Defaults *Options `mapstructure:"-"`
	// Transforms resolves Mutate. Defaults to mutate.Default().
	Transforms *mutate.Registry `mapstructure:"-"`
	// Scheduler defers precompile and watch rebuilds. Defaults to a new goroutine.
	Scheduler Scheduler `mapstructure:"-"`
	// OnError observes every failed build. Installing it disables the
	// fatal escalation of an unobserved precompile failure.
	OnError func(err error) `mapstructure:"-"`
	// Fatal handles an unobserved precompile failure. Defaults to a fatal
	// log entry, which exits the process.
	Fatal func(err error) `mapstructure:"-"`
	// Registerer receives build metrics. Nil disables metrics.
	Registerer prometheus.Registerer `mapstructure:"-"`
}

// Bool returns a pointer to v, for the optional switches.
func Bool(v bool) *bool { return &v }

func (o Options) precompile() bool {
	return o.Precompile == nil || *o.Precompile
}

func (o Options) watch() bool {
	return o.Watch != nil && *o.Watch
}

func deref(b *bool) bool { return b != nil && *b }

// Merge returns o overlaid with every field set in over. A non-nil switch
// wins even when false. Slices and maps are replaced, not appended.
func (o Options) Merge(over Options) Options {
	out := o

	if over.Format != "" {
		out.Format = over.Format
	}
	if over.Platform != "" {
		out.Platform = over.Platform
	}
	if over.Target != "" {
		out.Target = over.Target
	}
	if over.GlobalName != "" {
		out.GlobalName = over.GlobalName
	}
	if over.Minify != nil {
		out.Minify = over.Minify
	}
	if over.Sourcemap != nil {
		out.Sourcemap = over.Sourcemap
	}
	if over.Define != nil {
		out.Define = over.Define
	}
	if over.Loader != nil {
		out.Loader = over.Loader
	}
	if over.NodePaths != nil {
		out.NodePaths = over.NodePaths
	}
	if over.WorkingDir != "" {
		out.WorkingDir = over.WorkingDir
	}

	if over.Watch != nil {
		out.Watch = over.Watch
	}
	if over.Precompile != nil {
		out.Precompile = over.Precompile
	}
	if over.Mutate != "" {
		out.Mutate = over.Mutate
	}
	if over.Require != nil {
		out.Require = over.Require
	}
	if over.External != nil {
		out.External = over.External
	}
	if over.Ignore != nil {
		out.Ignore = over.Ignore
	}
	if over.Exclude != nil {
		out.Exclude = over.Exclude
	}
	if over.Debounce != 0 {
		out.Debounce = over.Debounce
	}
	if over.BuildTimeout != 0 {
		out.BuildTimeout = over.BuildTimeout
	}
	if len(over.Settings) > 0 {
		merged := make(map[string]any, len(o.Settings)+len(over.Settings))
		for k, v := range o.Settings {
			merged[k] = v
		}
		for k, v := range over.Settings {
			merged[k] = v
		}
		out.Settings = merged
	}

	if over.Transforms != nil {
		out.Transforms = over.Transforms
	}
	if over.Scheduler != nil {
		out.Scheduler = over.Scheduler
	}
	if over.OnError != nil {
		out.OnError = over.OnError
	}
	if over.Fatal != nil {
		out.Fatal = over.Fatal
	}
	if over.Registerer != nil {
		out.Registerer = over.Registerer
	}
	out.Defaults = nil
	return out
}

// resolve applies Defaults and fills unset hooks.
func (o Options) resolve() Options {
	if o.Defaults != nil {
		o = o.Defaults.resolve().Merge(o)
	}
	if o.Transforms == nil {
		o.Transforms = mutate.Default()
	}
	if o.Scheduler == nil {
		o.Scheduler = goScheduler
	}
	if o.Fatal == nil {
		o.Fatal = func(err error) {
			log.Fatal().Err(err).Msg("Bundle precompile failed with no pending requests and no error handler")
		}
	}
	return o
}

// Record flattens the options into the keyed record passed to output
// transforms.
func (o Options) Record() map[string]any {
	rec := make(map[string]any, len(o.Settings)+20)
	for k, v := range o.Settings {
		rec[k] = v
	}
	rec["format"] = o.Format
	rec["platform"] = o.Platform
	rec["target"] = o.Target
	rec["global_name"] = o.GlobalName
	rec["minify"] = deref(o.Minify)
	rec["sourcemap"] = deref(o.Sourcemap)
	rec["define"] = o.Define
	rec["loader"] = o.Loader
	rec["node_paths"] = o.NodePaths
	rec["working_dir"] = o.WorkingDir
	rec["watch"] = o.watch()
	rec["precompile"] = o.precompile()
	rec["mutate"] = o.Mutate
	rec["require"] = o.Require
	rec["external"] = o.External
	rec["ignore"] = o.Ignore
	rec["exclude"] = o.Exclude
	rec["debounce"] = o.Debounce
	rec["build_timeout"] = o.BuildTimeout
	return rec
}
