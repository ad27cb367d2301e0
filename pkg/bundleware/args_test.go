package bundleware

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxbundle/pkg/bundler"
)

func TestResolve_OrderIndependent(t *testing.T) {
	opts := Options{Watch: Bool(true), Mutate: "minify"}
	setupCalls := 0
	setup := func(*bundler.Bundler) bool {
		setupCalls++
		return true
	}

	orders := [][]any{
		{"./app.js", opts, setup},
		{opts, "./app.js", setup},
		{setup, opts, "./app.js"},
		{setup, "./app.js", opts},
		{opts, setup, "./app.js"},
		{"./app.js", setup, opts},
	}

	want := Args{
		Files:   Files{Paths: []string{"./app.js"}},
		Options: opts,
	}
	for _, args := range orders {
		got, err := Resolve(args...)
		require.NoError(t, err)

		if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Args{}, "Setup")); diff != "" {
			t.Errorf("Resolve(%v) mismatch (-want +got):\n%s", args, diff)
		}
		require.NotNil(t, got.Setup)
		assert.True(t, got.Setup(nil))
	}
	assert.Equal(t, len(orders), setupCalls)
}

func TestResolve_Kinds(t *testing.T) {
	t.Run("entries accumulate", func(t *testing.T) {
		r := strings.NewReader("console.log(1)")
		got, err := Resolve("a.js", []string{"b.js", "c.js"}, r, Files{Paths: []string{"d.js"}})
		require.NoError(t, err)

		assert.Equal(t, []string{"a.js", "b.js", "c.js", "d.js"}, got.Files.Paths)
		require.Len(t, got.Files.Streams, 1)
		assert.Same(t, r, got.Files.Streams[0].(*strings.Reader))
	})

	t.Run("pointer options", func(t *testing.T) {
		got, err := Resolve(&Options{Mutate: "strict"})
		require.NoError(t, err)
		assert.Equal(t, "strict", got.Options.Mutate)
	})

	t.Run("map options", func(t *testing.T) {
		got, err := Resolve(map[string]any{
			"watch":      true,
			"precompile": false,
			"require":    []string{"react"},
			"debounce":   "250ms",
			"format":     "esm",
			"team":       "web",
		})
		require.NoError(t, err)

		o := got.Options
		require.NotNil(t, o.Watch)
		assert.True(t, *o.Watch)
		require.NotNil(t, o.Precompile)
		assert.False(t, *o.Precompile)
		assert.Equal(t, []string{"react"}, o.Require)
		assert.Equal(t, 250*time.Millisecond, o.Debounce)
		assert.Equal(t, "esm", o.Format)
		assert.Equal(t, "web", o.Settings["team"])
	})

	t.Run("callback without result", func(t *testing.T) {
		called := false
		got, err := Resolve(func(*bundler.Bundler) { called = true })
		require.NoError(t, err)
		assert.True(t, got.Setup(nil))
		assert.True(t, called)
	})

	t.Run("nil values are skipped", func(t *testing.T) {
		var opts *Options
		got, err := Resolve(nil, opts, "a.js")
		require.NoError(t, err)
		assert.Equal(t, []string{"a.js"}, got.Files.Paths)
	})

	t.Run("no arguments", func(t *testing.T) {
		got, err := Resolve()
		require.NoError(t, err)
		assert.Empty(t, got.Files.Paths)
		assert.Nil(t, got.Setup)
	})
}

func TestResolve_Errors(t *testing.T) {
	_, err := Resolve("a.js", 42)
	assert.ErrorIs(t, err, ErrUnknownArgument)
	assert.Contains(t, err.Error(), "argument 1 has type int")

	_, err = Resolve(Options{}, map[string]any{"watch": true})
	assert.ErrorIs(t, err, ErrDuplicateArgument)

	noop := func(*bundler.Bundler) {}
	_, err = Resolve(noop, noop)
	assert.ErrorIs(t, err, ErrDuplicateArgument)
}

func TestFromArgs(t *testing.T) {
	dir := t.TempDir()
	m, err := FromArgs(map[string]any{"precompile": false, "working_dir": dir})
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, dir, m.Bundler().Config().WorkingDir)
	assert.Equal(t, StateIdle, m.Status().State)

	_, err = FromArgs(io.Discard)
	assert.ErrorIs(t, err, ErrUnknownArgument)
}
