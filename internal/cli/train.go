package cli

import (
	"fmt"

	"github.com/me/mlledger/internal/ledger"
	"github.com/me/mlledger/internal/trainer"
	"github.com/spf13/cobra"
)

func newTrainCmd() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the training worker and append its metrics to the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root != "" {
				cfg.MLRoot = root
			}
			if err := cfg.Require(trainer.RequiredKeys...); err != nil {
				return err
			}

			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			w := ledger.NewWriter(store, cfg.LedgerKey(), logger)

			res, err := trainer.New(cfg, w, logger).Run(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Model saved: %s\n", res.ModelPath)
			for _, m := range res.Record.Metrics {
				fmt.Fprintf(out, "%s: %g\n", m.Name, m.Value)
			}
			fmt.Fprintf(out, "Ledger %s now has %d records\n", cfg.LedgerKey(), res.Ledger.Len())
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Job root directory (default $MLLEDGER_ML_ROOT or /opt/ml)")
	return cmd
}
