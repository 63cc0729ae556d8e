package cli

import (
	"fmt"

	"github.com/me/mlledger/internal/config"
	"github.com/me/mlledger/internal/deployer"
	"github.com/me/mlledger/internal/platform"
	"github.com/spf13/cobra"
)

func newDeployCmd() *cobra.Command {
	var instanceType string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the model of the latest ledger record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if instanceType != "" {
				cfg.EndpointInstanceType = instanceType
			}
			if err := cfg.Require(config.KeyBucket, config.KeyPrefix, config.KeyPlatformURL); err != nil {
				return err
			}

			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			client := platform.NewClient(cfg.PlatformURL, logger)
			d := deployer.New(store, cfg.LedgerKey(), client, deployer.Options{
				InstanceType: cfg.EndpointInstanceType,
				Tags:         cfg.DeployTags,
			}, logger)

			res, err := d.DeployLatest(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Latest Training Job: %s\n", res.Record.JobIdentifier)
			fmt.Fprintf(cmd.OutOrStdout(), "Endpoint Name: %s\n", res.Endpoint)
			if len(cfg.DeployTags) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Endpoint Tags: %s\n", config.FormatTags(cfg.DeployTags))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceType, "instance-type", "", "Endpoint instance type (default from config, ml.m5.large)")
	return cmd
}
