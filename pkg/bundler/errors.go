package bundler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// ErrClosed is returned by Build after Close.
var ErrClosed = errors.New("bundler closed")

// BuildError reports the messages esbuild produced for a failed build.
type BuildError struct {
	Messages []string
	// Files lists the absolute paths of the source files the messages
	// point at, so a watcher can follow a file that never built.
	Files []string
}

func newBuildError(msgs []api.Message, wd string) *BuildError {
	e := &BuildError{Messages: formatMessages(msgs)}
	for _, m := range msgs {
		loc := m.Location
		if loc == nil || (loc.Namespace != "" && loc.Namespace != "file") {
			continue
		}
		if abs, ok := inputPath(wd, loc.File); ok && !slices.Contains(e.Files, abs) {
			e.Files = append(e.Files, abs)
		}
	}
	return e
}

func (e *BuildError) Error() string {
	switch len(e.Messages) {
	case 0:
		return "bundle failed"
	case 1:
		return "bundle failed: " + e.Messages[0]
	default:
		return fmt.Sprintf("bundle failed with %d errors: %s", len(e.Messages), strings.Join(e.Messages, "; "))
	}
}

// formatMessages renders esbuild messages as "file:line:col: text".
func formatMessages(msgs []api.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text := m.Text
		if m.PluginName != "" {
			text = "[plugin " + m.PluginName + "] " + text
		}
		if loc := m.Location; loc != nil && loc.File != "" {
			text = fmt.Sprintf("%s:%d:%d: %s", loc.File, loc.Line, loc.Column, text)
		}
		out = append(out, text)
	}
	return out
}
