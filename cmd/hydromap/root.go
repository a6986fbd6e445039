package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/hydromap/internal/config"
	"github.com/couchcryptid/hydromap/internal/observability"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	logLevel  string
	logFormat string
	scenario  string
	sample    string
	input     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "hydromap",
		Short:         "Edit, simulate and map EPANET networks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// A missing .env is fine; the environment may already be set.
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	f := cmd.PersistentFlags()
	f.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", "text", "log format (json, text)")
	f.StringVarP(&opts.scenario, "scenario", "s", "", "YAML scenario file (default: the built-in leak-sector scenario)")
	f.StringVar(&opts.sample, "sample", "", "use a bundled sample network instead of the scenario input")
	f.StringVarP(&opts.input, "input", "i", "", "INP file overriding the scenario input")
	cmd.MarkFlagsMutuallyExclusive("sample", "input")

	cmd.AddCommand(
		newRenderCmd(opts),
		newExportCmd(opts),
		newInspectCmd(opts),
		newCheckCmd(opts),
	)
	return cmd
}

// logger writes to stderr so stdout stays free for command output.
func (o *rootOptions) logger() *slog.Logger {
	return observability.NewLoggerTo(os.Stderr, o.logLevel, o.logFormat)
}

// loadScenario reads --scenario or falls back to the built-in scenario, then
// applies the --sample and --input overrides.
func (o *rootOptions) loadScenario() (*config.Scenario, error) {
	var (
		s   *config.Scenario
		err error
	)
	if o.scenario != "" {
		s, err = config.LoadScenario(o.scenario)
		if err != nil {
			return nil, err
		}
	} else {
		s = config.DefaultScenario()
	}
	switch {
	case o.sample != "":
		s.Sample, s.Input = o.sample, ""
	case o.input != "":
		s.Input, s.Sample = o.input, ""
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
