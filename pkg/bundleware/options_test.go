package bundleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxbundle/pkg/bundler"
)

func TestOptions_Merge(t *testing.T) {
	base := Options{
		Config:     bundler.Config{Format: "iife", Minify: Bool(true)},
		Watch:      Bool(true),
		Mutate:     "strict",
		Require:    []string{"react"},
		Debounce:   time.Second,
		Settings:   map[string]any{"team": "web", "region": "eu"},
		Precompile: Bool(true),
	}
	over := Options{
		Config:     bundler.Config{Format: "esm"},
		Require:    []string{"preact"},
		Settings:   map[string]any{"region": "us"},
		Precompile: Bool(false),
	}

	got := base.Merge(over)

	assert.Equal(t, "esm", got.Format)
	assert.True(t, *got.Minify, "unset switch keeps base value")
	assert.True(t, *got.Watch)
	assert.Equal(t, "strict", got.Mutate)
	assert.Equal(t, []string{"preact"}, got.Require, "slices are replaced")
	assert.Equal(t, time.Second, got.Debounce)
	assert.False(t, *got.Precompile)
	assert.Equal(t, map[string]any{"team": "web", "region": "us"}, got.Settings)
	assert.Equal(t, "eu", base.Settings["region"], "base settings untouched")
}

func TestOptions_Merge_FalseOverridesTrue(t *testing.T) {
	base := Options{
		Config: bundler.Config{Minify: Bool(true), Sourcemap: Bool(true)},
		Watch:  Bool(true),
	}
	over := Options{
		Config: bundler.Config{Minify: Bool(false), Sourcemap: Bool(false)},
		Watch:  Bool(false),
	}

	got := base.Merge(over)

	assert.False(t, *got.Minify)
	assert.False(t, *got.Sourcemap)
	assert.False(t, got.watch())
	rec := got.Record()
	assert.Equal(t, false, rec["minify"])
	assert.Equal(t, false, rec["sourcemap"])
	assert.Equal(t, false, rec["watch"])
}

func TestOptions_DecodedFalseBeatsDefaults(t *testing.T) {
	opts, err := DecodeOptions(map[string]any{"watch": false, "minify": false})
	require.NoError(t, err)
	opts.Defaults = &Options{
		Config: bundler.Config{Minify: Bool(true)},
		Watch:  Bool(true),
	}

	got := opts.resolve()
	assert.False(t, got.watch())
	assert.False(t, *got.Minify)

	m, _, _ := newTestMiddleware(t, opts, nil)
	_, watching := m.WatchStats()
	assert.False(t, watching, "per-call watch:false keeps the watcher off")
}

func TestOptions_Resolve(t *testing.T) {
	o := Options{}.resolve()

	assert.NotNil(t, o.Transforms)
	assert.NotNil(t, o.Scheduler)
	assert.NotNil(t, o.Fatal)
	assert.True(t, o.precompile())

	layered := Options{
		Defaults: &Options{
			Mutate:   "minify",
			Defaults: &Options{External: []string{"fs"}},
		},
	}.resolve()
	assert.Equal(t, "minify", layered.Mutate)
	assert.Equal(t, []string{"fs"}, layered.External)
}

func TestOptions_Record(t *testing.T) {
	rec := Options{
		Config:   bundler.Config{GlobalName: "App"},
		Mutate:   "banner",
		Ignore:   []string{"fs"},
		Settings: map[string]any{"banner": "/* v1 */", "mutate": "shadowed"},
	}.Record()

	assert.Equal(t, "App", rec["global_name"])
	assert.Equal(t, "banner", rec["mutate"], "named fields win over settings")
	assert.Equal(t, "/* v1 */", rec["banner"])
	assert.Equal(t, []string{"fs"}, rec["ignore"])
	assert.Equal(t, true, rec["precompile"])
}
