// Package mutate holds the post-build transforms applied to a bundle before
// it is cached and served.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
)

// ErrUnknownTransform is returned when a transform id has no registration.
var ErrUnknownTransform = errors.New("unknown transform")

// Func transforms bundle source. opts is the full options record of the
// mounted bundle, keyed by option name.
type Func func(ctx context.Context, src string, opts map[string]any) (string, error)

// Registry maps transform ids to their functions. The empty id is always a
// passthrough.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns a registry preloaded with the built-in transforms.
func NewRegistry() *Registry {
	return &Registry{
		funcs: map[string]Func{
			"minify": Minify,
			"strict": Strict,
			"banner": Banner,
		},
	}
}

// Register adds or replaces a transform.
func (r *Registry) Register(id string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[id] = fn
}

// Lookup returns the transform registered under id.
func (r *Registry) Lookup(id string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[id]
	return fn, ok
}

// Names lists registered ids in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply runs the transform registered under id. An empty id returns src
// unchanged.
func (r *Registry) Apply(ctx context.Context, id, src string, opts map[string]any) (string, error) {
	if id == "" {
		return src, nil
	}
	fn, ok := r.Lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTransform, id)
	}
	return fn(ctx, src, opts)
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used when a bundle is not given
// its own.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a transform to the default registry.
func Register(id string, fn Func) {
	defaultRegistry.Register(id, fn)
}

// Apply runs a transform from the default registry.
func Apply(ctx context.Context, id, src string, opts map[string]any) (string, error) {
	return defaultRegistry.Apply(ctx, id, src, opts)
}

// Minify compresses whitespace, identifiers and syntax with esbuild.
func Minify(_ context.Context, src string, _ map[string]any) (string, error) {
	result := api.Transform(src, api.TransformOptions{
		Loader:            api.LoaderJS,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
	})
	if len(result.Errors) > 0 {
		msg := result.Errors[0]
		loc := ""
		if msg.Location != nil {
			loc = fmt.Sprintf(" at line %d, column %d", msg.Location.Line, msg.Location.Column)
		}
		return "", fmt.Errorf("minify failed%s: %s", loc, msg.Text)
	}
	return string(result.Code), nil
}

// Strict prepends a "use strict" directive.
func Strict(_ context.Context, src string, _ map[string]any) (string, error) {
	return "\"use strict\";\n" + src, nil
}

// Banner prepends the string found under the "banner" option.
func Banner(_ context.Context, src string, opts map[string]any) (string, error) {
	raw, ok := opts["banner"]
	if !ok {
		return "", fmt.Errorf("banner transform requires a %q option", "banner")
	}
	banner, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("banner option must be a string, got %T", raw)
	}
	if banner == "" {
		return src, nil
	}
	return banner + "\n" + src, nil
}
