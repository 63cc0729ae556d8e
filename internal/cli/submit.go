package cli

import (
	"time"

	"github.com/me/mlledger/internal/config"
	"github.com/me/mlledger/internal/correlator"
	"github.com/me/mlledger/internal/ledger"
	"github.com/me/mlledger/internal/platform"
	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var outputDir, jobName string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a training job and report its ledger record",
		Long: "Submit a training job to the platform, write training_job_name.txt and " +
			"hyperparameters.txt, wait for the worker's ledger record carrying the " +
			"correlation key, then print the report and save it to details.txt.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputDir != "" {
				cfg.OutputDir = outputDir
			}
			if jobName != "" {
				cfg.JobNameOverride = jobName
			}
			if err := cfg.Require(config.KeyBucket, config.KeyPrefix, config.KeyRegion, config.KeyCorrelationKey, config.KeyPlatformURL); err != nil {
				return err
			}

			ctx, cancel := withTimeout(cmd.Context(), timeout)
			defer cancel()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			poller := ledger.NewPoller(store, cfg.LedgerKey(), cfg.PollInterval, logger)
			client := platform.NewClient(cfg.PlatformURL, logger)

			c := correlator.New(client, poller, cfg, logger, correlator.WithOutput(cmd.OutOrStdout()))
			_, err = c.Run(ctx)
			return err
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for the job name, hyperparameters and details files")
	cmd.Flags().StringVar(&jobName, "job-name", "", "Use this job name instead of generating one")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting for the record after this long (0 waits forever)")
	return cmd
}
