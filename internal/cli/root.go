// Package cli implements the mlledger command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/mlledger/internal/blob"
	"github.com/me/mlledger/internal/config"
	"github.com/me/mlledger/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	cfg    config.Config
)

// NewRootCmd creates the root cobra command for the mlledger CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mlledger",
		Short: "Training ledger for submit, train and deploy pipelines",
		Long: "mlledger coordinates a job submitter, a training worker and a deploy " +
			"resolver through one shared CSV ledger in blob storage.",
		SilenceUsage: true,
	}
	addPersistentFlags(root)

	root.AddCommand(
		newSubmitCmd(),
		newTrainCmd(),
		newDeployCmd(),
		newLedgerCmd(),
		newPlatformCmd(),
	)
	return root
}

// NewSubmitReportCmd is the standalone submit-and-report executable.
func NewSubmitReportCmd() *cobra.Command {
	return standalone("submit-report", newSubmitCmd())
}

// NewTrainCmd is the standalone training-worker executable.
func NewTrainCmd() *cobra.Command {
	return standalone("train", newTrainCmd())
}

// NewDeployLatestCmd is the standalone deploy-latest executable.
func NewDeployLatestCmd() *cobra.Command {
	return standalone("deploy-latest", newDeployCmd())
}

func standalone(use string, cmd *cobra.Command) *cobra.Command {
	cmd.Use = use
	cmd.SilenceUsage = true
	addPersistentFlags(cmd)
	return cmd
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentPreRunE = setup
	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML config file (environment overrides it)")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (text, json)")
}

// setup loads configuration and builds the logger. Flags win over the
// config file and environment.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(flagConfig, nil)
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}

	logger, err = logging.Setup(cfg.LogLevel, cfg.LogFormat, flagDebug, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	logger.Debug("configuration loaded",
		"backend", cfg.Backend,
		"bucket", cfg.Bucket,
		"ledger", cfg.LedgerKey(),
		"poll_interval", cfg.PollInterval,
	)
	return nil
}

// openStore opens the configured blob store.
func openStore(ctx context.Context) (blob.Store, error) {
	if cfg.Backend != "memory" {
		if err := cfg.Require(config.KeyBucket); err != nil {
			return nil, err
		}
	}
	store, err := blob.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return store, nil
}

// withTimeout bounds ctx when d is positive. Zero means wait forever.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
