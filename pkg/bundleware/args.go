package bundleware

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/viper"

	"github.com/fluxbase-eu/fluxbundle/pkg/bundler"
)

var (
	// ErrUnknownArgument is returned by Resolve for a value it cannot classify.
	ErrUnknownArgument = errors.New("unknown bundle argument")
	// ErrDuplicateArgument is returned by Resolve when options or a setup
	// callback appear more than once.
	ErrDuplicateArgument = errors.New("duplicate bundle argument")
)

// Files names the bundle entries: source paths and in-memory streams.
type Files struct {
	Paths   []string
	Streams []io.Reader
}

// SetupFunc customizes the bundler before the first build. Returning false
// skips the precompile build.
type SetupFunc func(b *bundler.Bundler) bool

// Args is the classified form of a loosely typed argument list.
type Args struct {
	Files   Files
	Options Options
	Setup   SetupFunc
}

// Resolve classifies args by type regardless of their order. Entries are
// strings, string slices, Files values or readers; options are Options,
// *Options or a map decoded like a config file; the callback is a
// SetupFunc or a func(*bundler.Bundler). Nil values are skipped.
func Resolve(args ...any) (Args, error) {
	var (
		out       Args
		haveOpts  bool
		haveSetup bool
	)

	setOptions := func(o Options) error {
		if haveOpts {
			return fmt.Errorf("%w: options given twice", ErrDuplicateArgument)
		}
		haveOpts = true
		out.Options = o
		return nil
	}
	setSetup := func(fn SetupFunc) error {
		if haveSetup {
			return fmt.Errorf("%w: setup callback given twice", ErrDuplicateArgument)
		}
		haveSetup = true
		out.Setup = fn
		return nil
	}

	for i, arg := range args {
		var err error
		switch v := arg.(type) {
		case nil:
		case string:
			out.Files.Paths = append(out.Files.Paths, v)
		case []string:
			out.Files.Paths = append(out.Files.Paths, v...)
		case Files:
			out.Files.Paths = append(out.Files.Paths, v.Paths...)
			out.Files.Streams = append(out.Files.Streams, v.Streams...)
		case io.Reader:
			out.Files.Streams = append(out.Files.Streams, v)
		case Options:
			err = setOptions(v)
		case *Options:
			if v != nil {
				err = setOptions(*v)
			}
		case map[string]any:
			var o Options
			if o, err = DecodeOptions(v); err == nil {
				err = setOptions(o)
			}
		case SetupFunc:
			err = setSetup(v)
		case func(*bundler.Bundler) bool:
			err = setSetup(v)
		case func(*bundler.Bundler):
			err = setSetup(func(b *bundler.Bundler) bool {
				v(b)
				return true
			})
		default:
			err = fmt.Errorf("%w: argument %d has type %T", ErrUnknownArgument, i, arg)
		}
		if err != nil {
			return Args{}, err
		}
	}
	return out, nil
}

// DecodeOptions decodes a keyed record into Options using the same rules
// as the config file: snake_case keys, duration strings, and unknown keys
// collected into Settings.
func DecodeOptions(m map[string]any) (Options, error) {
	v := viper.New()
	if err := v.MergeConfigMap(m); err != nil {
		return Options{}, fmt.Errorf("failed to read bundle options: %w", err)
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, fmt.Errorf("failed to decode bundle options: %w", err)
	}
	return opts, nil
}
