package bundler

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Config holds the engine settings passed straight to esbuild.
// Zero values select esbuild's browser defaults. Minify and Sourcemap are
// pointers so an explicit false survives a merge over a true default.
type Config struct {
	Format     string            `mapstructure:"format"`   // iife (default), esm, cjs
	Platform   string            `mapstructure:"platform"` // browser (default), node, neutral
	Target     string            `mapstructure:"target"`   // es2015 ... es2022, esnext
	GlobalName string            `mapstructure:"global_name"`
	Minify     *bool             `mapstructure:"minify"`
	Sourcemap  *bool             `mapstructure:"sourcemap"` // inline source maps
	Define     map[string]string `mapstructure:"define"`
	Loader     map[string]string `mapstructure:"loader"` // extension -> loader name
	NodePaths  []string          `mapstructure:"node_paths"`

	// WorkingDir anchors relative entry paths and metafile inputs.
	// Defaults to the process working directory.
	WorkingDir string `mapstructure:"working_dir"`
}

var formats = map[string]api.Format{
	"":     api.FormatIIFE,
	"iife": api.FormatIIFE,
	"esm":  api.FormatESModule,
	"cjs":  api.FormatCommonJS,
}

var platforms = map[string]api.Platform{
	"":        api.PlatformBrowser,
	"browser": api.PlatformBrowser,
	"node":    api.PlatformNode,
	"neutral": api.PlatformNeutral,
}

var targets = map[string]api.Target{
	"":       api.DefaultTarget,
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

var loaders = map[string]api.Loader{
	"js":      api.LoaderJS,
	"jsx":     api.LoaderJSX,
	"ts":      api.LoaderTS,
	"tsx":     api.LoaderTSX,
	"json":    api.LoaderJSON,
	"text":    api.LoaderText,
	"base64":  api.LoaderBase64,
	"dataurl": api.LoaderDataURL,
	"binary":  api.LoaderBinary,
	"css":     api.LoaderCSS,
	"empty":   api.LoaderEmpty,
}

// Validate checks that every enumerated setting names a known esbuild value.
func (c Config) Validate() error {
	if _, ok := formats[strings.ToLower(c.Format)]; !ok {
		return fmt.Errorf("unknown format %q (must be one of: iife, esm, cjs)", c.Format)
	}
	if _, ok := platforms[strings.ToLower(c.Platform)]; !ok {
		return fmt.Errorf("unknown platform %q (must be one of: browser, node, neutral)", c.Platform)
	}
	if _, ok := targets[strings.ToLower(c.Target)]; !ok {
		return fmt.Errorf("unknown target %q", c.Target)
	}
	for ext, name := range c.Loader {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("loader extension %q must start with a dot", ext)
		}
		if _, ok := loaders[strings.ToLower(name)]; !ok {
			return fmt.Errorf("unknown loader %q for %s", name, ext)
		}
	}
	return nil
}

// apply copies the settings onto esbuild build options. Validate must pass first.
func (c Config) apply(opts *api.BuildOptions) {
	opts.Format = formats[strings.ToLower(c.Format)]
	opts.Platform = platforms[strings.ToLower(c.Platform)]
	opts.Target = targets[strings.ToLower(c.Target)]
	opts.GlobalName = c.GlobalName
	minify := isTrue(c.Minify)
	opts.MinifyWhitespace = minify
	opts.MinifyIdentifiers = minify
	opts.MinifySyntax = minify
	if isTrue(c.Sourcemap) {
		opts.Sourcemap = api.SourceMapInline
	}
	opts.Define = c.Define
	opts.NodePaths = c.NodePaths

	if len(c.Loader) > 0 {
		opts.Loader = make(map[string]api.Loader, len(c.Loader))
		for ext, name := range c.Loader {
			opts.Loader[ext] = loaders[strings.ToLower(name)]
		}
	}
}

func isTrue(b *bool) bool { return b != nil && *b }
