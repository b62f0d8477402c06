// Package cli wires configuration, storage and the ingestion service into
// the congress command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opendiscourse/congress-data-service/internal/config"
)

// Options holds global flags and the state loaded before every command.
type Options struct {
	ConfigFile string
	LogLevel   string

	cfg    *config.Config
	logger *logrus.Logger
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "congress",
		Short: "Congress.gov data ingestion service",
		Long: `Ingest legislative records from the Congress.gov v3 API into a
local store, and query or analyse what has been ingested.

Configuration comes from the environment (and a .env file), optionally
layered over a YAML file given with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewSyncRecentCommand(opts))
	cmd.AddCommand(NewIngestOneCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewAnalyzeCommand(opts))

	return cmd
}

func (o *Options) load(cmd *cobra.Command) error {
	if o.ConfigFile != "" {
		if err := os.Setenv("CONFIG_FILE", o.ConfigFile); err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	o.cfg = cfg
	o.logger = config.NewLogger(cfg.Log)
	o.logger.SetOutput(cmd.ErrOrStderr())
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		var failed *RunFailedError
		if errors.As(err, &failed) {
			return 2
		}
		return 1
	}
	return 0
}
