package main

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxbundle/internal/config"
	"github.com/fluxbase-eu/fluxbundle/internal/output"
	"github.com/fluxbase-eu/fluxbundle/pkg/bundleware"
)

var (
	buildOut    string
	buildStats  bool
	buildFormat string
	buildMinify bool
	buildMutate string
	statsFormat string
)

var buildCmd = &cobra.Command{
	Use:   "build [entries...]",
	Short: "Build the bundle once and write it out",
	Long: `Build the configured bundle once, apply the mutate transform and write
the result to stdout or --out. Entries given as arguments replace
bundle.entries from the config file.`,
	Example: `  fluxbundle build ./src/main.js > bundle.js
  fluxbundle build --out dist/bundle.js --minify --stats`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildOut, "out", "", "write the bundle to this file instead of stdout")
	buildCmd.Flags().BoolVar(&buildStats, "stats", false, "print how much each input contributes")
	buildCmd.Flags().StringVar(&statsFormat, "stats-format", "table", "stats format: table, json, yaml")
	buildCmd.Flags().StringVar(&buildFormat, "format", "", "output module format: iife, cjs, esm")
	buildCmd.Flags().BoolVar(&buildMinify, "minify", false, "minify the bundle")
	buildCmd.Flags().StringVar(&buildMutate, "mutate", "", "transform applied to the bundle")
}

func runBuild(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statsFormat)
	if err != nil {
		return err
	}

	overrides := map[string]any{}
	if len(args) > 0 {
		overrides["bundle.entries"] = args
	}
	if cmd.Flags().Changed("format") {
		overrides["bundle.engine.format"] = buildFormat
	}
	if cmd.Flags().Changed("minify") {
		overrides["bundle.engine.minify"] = buildMinify
	}
	if cmd.Flags().Changed("mutate") {
		overrides["bundle.mutate"] = buildMutate
	}

	cfg, err := config.LoadWithOverrides(cfgFile, overrides)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	opts := cfg.Bundle.Options()
	opts.Watch = bundleware.Bool(false)
	opts.Precompile = bundleware.Bool(false)

	bundle, err := bundleware.New(cfg.Bundle.Files(), opts, nil)
	if err != nil {
		return fmt.Errorf("failed to create bundle: %w", err)
	}
	defer bundle.Close()

	code, err := bundle.Result(cmd.Context())
	if err != nil {
		return err
	}

	// Stats go to stderr when the bundle itself is on stdout.
	statsOut := cmd.OutOrStdout()
	if buildOut == "" {
		statsOut = cmd.ErrOrStderr()
		if _, err := io.WriteString(cmd.OutOrStdout(), code); err != nil {
			return err
		}
	} else if err := writeBundle(buildOut, code); err != nil {
		return err
	}

	if buildStats {
		wd := bundle.Bundler().Config().WorkingDir
		return output.NewFormatter(format, statsOut).PrintTable(statsTable(bundle.Sizes(), wd, len(code)))
	}
	return nil
}

func writeBundle(path, code string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	return nil
}

// statsTable lists inputs largest first, with paths relative to wd.
func statsTable(sizes map[string]int, wd string, total int) output.TableData {
	type row struct {
		path  string
		bytes int
	}
	rows := make([]row, 0, len(sizes))
	for path, n := range sizes {
		if rel, err := filepath.Rel(wd, path); err == nil && wd != "" {
			path = rel
		}
		rows = append(rows, row{path, n})
	}
	slices.SortFunc(rows, func(a, b row) int {
		if c := cmp.Compare(b.bytes, a.bytes); c != 0 {
			return c
		}
		return cmp.Compare(a.path, b.path)
	})

	data := output.TableData{Headers: []string{"FILE", "BYTES", "SIZE", "SHARE"}}
	for _, r := range rows {
		share := 0.0
		if total > 0 {
			share = float64(r.bytes) / float64(total) * 100
		}
		data.Rows = append(data.Rows, []string{
			r.path,
			strconv.Itoa(r.bytes),
			output.FormatBytes(r.bytes),
			fmt.Sprintf("%.1f%%", share),
		})
	}
	return data
}
