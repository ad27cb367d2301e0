// Package bundler wraps the esbuild engine behind a long-lived, mutable
// bundler instance: entry files and streams, require/external/ignore/exclude
// configuration, incremental rebuilds and bundle lifecycle events.
package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

const (
	pluginName       = "fluxbundle"
	entryName        = "<fluxbundle>"
	streamPrefix     = "fluxbundle-stream:"
	streamNamespace  = "fluxbundle-stream"
	ignoreNamespace  = "fluxbundle-ignore"
	excludeNamespace = "fluxbundle-exclude"
)

// Result is the output of a single successful build.
type Result struct {
	Code     string
	Inputs   []string       // absolute paths of every file read by the build
	Sizes    map[string]int // bytes each input contributed to Code
	Warnings []string
}

type requireEntry struct {
	file   string
	expose string
}

// Bundler is a single esbuild bundle definition. Configuration methods may
// be called at any time before Build; a changed configuration discards the
// incremental build context on the next Build.
type Bundler struct {
	mu        sync.Mutex
	cfg       Config
	files     []string
	streams   []string
	requires  []requireEntry
	externals []string
	ignores   []string
	excludes  []string

	bctx   api.BuildContext
	dirty  bool
	closed bool

	events emitter
}

// New creates a bundler for the given entry files and in-memory stream
// sources. Both may be empty, which yields a bundle holding only the
// modules later added with Require.
func New(files []string, streams []string, cfg Config) (*Bundler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.WorkingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		cfg.WorkingDir = wd
	}
	wd, err := filepath.Abs(cfg.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	cfg.WorkingDir = wd

	b := &Bundler{
		cfg:     cfg,
		streams: append([]string(nil), streams...),
		dirty:   true,
	}
	for _, f := range files {
		b.files = append(b.files, b.abs(f))
	}
	return b, nil
}

func (b *Bundler) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(b.cfg.WorkingDir, p)
}

// Files returns the absolute entry file paths.
func (b *Bundler) Files() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.files...)
}

// Config returns the engine configuration with WorkingDir resolved.
func (b *Bundler) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Add appends entry files.
func (b *Bundler) Add(files ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range files {
		b.files = append(b.files, b.abs(f))
	}
	b.dirty = true
}

// Require bundles each module and exposes it to page scripts through a
// global require function under its own specifier.
func (b *Bundler) Require(ids ...string) {
	for _, id := range ids {
		b.RequireAs(id, id)
	}
}

// RequireAs bundles file and exposes it to page scripts as expose.
func (b *Bundler) RequireAs(file, expose string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requires = append(b.requires, requireEntry{file: file, expose: expose})
	b.dirty = true
}

// External leaves modules out of the bundle, expecting another bundle or
// the host page to provide them through require at runtime.
func (b *Bundler) External(ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.externals = append(b.externals, ids...)
	b.dirty = true
}

// Ignore replaces modules with an empty object.
func (b *Bundler) Ignore(ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ignores = append(b.ignores, ids...)
	b.dirty = true
}

// Exclude omits modules entirely; requiring one throws at runtime.
func (b *Bundler) Exclude(ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.excludes = append(b.excludes, ids...)
	b.dirty = true
}

// Build runs one compile. Cancelling ctx aborts the running esbuild pass.
func (b *Bundler) Build(ctx context.Context) (*Result, error) {
	bctx, err := b.context()
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, bctx.Cancel)
	defer stop()

	res := bctx.Rebuild()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build cancelled: %w", err)
	}
	if len(res.Errors) > 0 {
		return nil, newBuildError(res.Errors, b.Config().WorkingDir)
	}
	if len(res.OutputFiles) == 0 {
		return nil, fmt.Errorf("build produced no output")
	}

	inputs, sizes := b.inputs(res.Metafile)
	result := &Result{
		Code:     string(res.OutputFiles[0].Contents),
		Inputs:   inputs,
		Sizes:    sizes,
		Warnings: formatMessages(res.Warnings),
	}
	for _, w := range result.Warnings {
		log.Warn().Str("warning", w).Msg("Bundle built with warning")
	}
	return result, nil
}

// Close releases the incremental build context. Later builds fail with
// ErrClosed.
func (b *Bundler) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.bctx != nil {
		b.bctx.Dispose()
		b.bctx = nil
	}
}

// context returns the incremental build context, recreating it when the
// configuration changed since the last build.
func (b *Bundler) context() (api.BuildContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.bctx != nil && !b.dirty {
		return b.bctx, nil
	}
	if b.bctx != nil {
		b.bctx.Dispose()
		b.bctx = nil
	}

	bctx, cerr := api.Context(b.buildOptions())
	if cerr != nil {
		return nil, newBuildError(cerr.Errors, b.cfg.WorkingDir)
	}
	b.bctx = bctx
	b.dirty = false
	return bctx, nil
}

// buildOptions assembles esbuild options. Caller holds b.mu.
func (b *Bundler) buildOptions() api.BuildOptions {
	opts := api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   b.entrySource(),
			ResolveDir: b.cfg.WorkingDir,
			Sourcefile: entryName,
			Loader:     api.LoaderJS,
		},
		Bundle:        true,
		Write:         false,
		Outfile:       "bundle.js",
		Metafile:      true,
		AbsWorkingDir: b.cfg.WorkingDir,
		External:      append([]string(nil), b.externals...),
		LogLevel:      api.LogLevelSilent,
	}
	b.cfg.apply(&opts)
	opts.Plugins = []api.Plugin{b.plugin()}
	return opts
}

// entrySource generates the synthetic entry module: one side-effect import
// per entry file and stream, then the registry behind the global require.
func (b *Bundler) entrySource() string {
	var sb strings.Builder
	for _, f := range b.files {
		fmt.Fprintf(&sb, "import %s;\n", strconv.Quote(f))
	}
	for i := range b.streams {
		fmt.Fprintf(&sb, "import %s;\n", strconv.Quote(streamPrefix+strconv.Itoa(i)))
	}
	if len(b.requires) == 0 {
		return sb.String()
	}

	for i, r := range b.requires {
		fmt.Fprintf(&sb, "import * as __fluxbundle_r%d from %s;\n", i, strconv.Quote(r.file))
	}
	sb.WriteString("(function (modules) {\n")
	sb.WriteString("  var g = typeof globalThis !== \"undefined\" ? globalThis : window;\n")
	sb.WriteString("  var prev = typeof g.require === \"function\" ? g.require : null;\n")
	sb.WriteString("  g.require = function (name) {\n")
	sb.WriteString("    if (Object.prototype.hasOwnProperty.call(modules, name)) return modules[name];\n")
	sb.WriteString("    if (prev) return prev(name);\n")
	sb.WriteString("    throw new Error(\"Cannot find module '\" + name + \"'\");\n")
	sb.WriteString("  };\n")
	sb.WriteString("})({\n")
	for i, r := range b.requires {
		fmt.Fprintf(&sb, "  %s: __fluxbundle_r%d,\n", strconv.Quote(r.expose), i)
	}
	sb.WriteString("});\n")
	return sb.String()
}

func (b *Bundler) plugin() api.Plugin {
	streams := append([]string(nil), b.streams...)
	ignores := exactFilter(b.ignores)
	excludes := exactFilter(b.excludes)
	resolveDir := b.cfg.WorkingDir

	return api.Plugin{
		Name: pluginName,
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^" + regexp.QuoteMeta(streamPrefix)},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path:      strings.TrimPrefix(args.Path, streamPrefix),
						Namespace: streamNamespace,
					}, nil
				})
			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: streamNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					i, err := strconv.Atoi(args.Path)
					if err != nil || i < 0 || i >= len(streams) {
						return api.OnLoadResult{}, fmt.Errorf("unknown stream source %q", args.Path)
					}
					contents := streams[i]
					return api.OnLoadResult{
						Contents:   &contents,
						ResolveDir: resolveDir,
						Loader:     api.LoaderJS,
					}, nil
				})

			if ignores != "" {
				build.OnResolve(api.OnResolveOptions{Filter: ignores},
					func(args api.OnResolveArgs) (api.OnResolveResult, error) {
						return api.OnResolveResult{Path: args.Path, Namespace: ignoreNamespace}, nil
					})
				build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: ignoreNamespace},
					func(args api.OnLoadArgs) (api.OnLoadResult, error) {
						contents := "module.exports = {};"
						return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
					})
			}

			if excludes != "" {
				build.OnResolve(api.OnResolveOptions{Filter: excludes},
					func(args api.OnResolveArgs) (api.OnResolveResult, error) {
						return api.OnResolveResult{Path: args.Path, Namespace: excludeNamespace}, nil
					})
				build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: excludeNamespace},
					func(args api.OnLoadArgs) (api.OnLoadResult, error) {
						contents := "throw new Error(" + strconv.Quote("Cannot find module '"+args.Path+"'") + ");"
						return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
					})
			}
		},
	}
}

// exactFilter builds an esbuild filter matching any of ids verbatim.
func exactFilter(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = regexp.QuoteMeta(id)
	}
	return "^(" + strings.Join(quoted, "|") + ")$"
}

type metafile struct {
	Inputs  map[string]json.RawMessage `json:"inputs"`
	Outputs map[string]struct {
		Inputs map[string]struct {
			BytesInOutput int `json:"bytesInOutput"`
		} `json:"inputs"`
	} `json:"outputs"`
}

// inputs lists the on-disk files recorded in the metafile along with the
// bytes each contributed to the output.
func (b *Bundler) inputs(raw string) ([]string, map[string]int) {
	if raw == "" {
		return nil, nil
	}
	var meta metafile
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		log.Debug().Err(err).Msg("Failed to parse esbuild metafile")
		return nil, nil
	}

	wd := b.Config().WorkingDir
	paths := make([]string, 0, len(meta.Inputs))
	for p := range meta.Inputs {
		if abs, ok := inputPath(wd, p); ok {
			paths = append(paths, abs)
		}
	}
	sort.Strings(paths)

	sizes := make(map[string]int, len(paths))
	for _, out := range meta.Outputs {
		for p, in := range out.Inputs {
			if abs, ok := inputPath(wd, p); ok {
				sizes[abs] += in.BytesInOutput
			}
		}
	}
	return paths, sizes
}

// inputPath makes an esbuild input path absolute. Virtual modules carry a
// namespace prefix, e.g. "fluxbundle-stream:0", and report false.
func inputPath(wd, p string) (string, bool) {
	if p == "" || strings.HasPrefix(p, "<") || (strings.Contains(p, ":") && !filepath.IsAbs(p)) {
		return "", false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(wd, p)
	}
	return filepath.Clean(p), true
}
