package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/taskengine/internal/config"
	"github.com/aristath/taskengine/internal/logging"
)

// rootOptions holds the persistent flags shared by all commands.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "taskengine",
		Short: "Dependency-aware task runner with retries and recovery",
		Long: `taskengine runs a plan of interdependent tasks under a concurrency cap.

Failures are classified and handed to a recovery policy that retries,
rolls back or alerts. Tasks that depend on a terminal failure are blocked.
State is checkpointed so an interrupted run can be resumed.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: ~/.taskengine/config.json merged with .taskengine/config.json)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newOrderCmd())
	cmd.AddCommand(newClassifyCmd())
	cmd.AddCommand(newStatusCmd(opts))
	return cmd
}

// loadConfig reads --config when given, otherwise the conventional paths.
// Environment overrides apply either way.
func (o *rootOptions) loadConfig() (*config.OrchestratorConfig, error) {
	var (
		cfg *config.OrchestratorConfig
		err error
	)
	if o.configPath != "" {
		if _, err := os.Stat(o.configPath); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		cfg, err = config.Load("", o.configPath)
		if err == nil {
			err = config.ApplyEnv(cfg, os.LookupEnv)
		}
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.OrchestratorConfig, w io.Writer) *slog.Logger {
	return logging.New(cfg.Logging.Level, cfg.Logging.Format, w)
}
