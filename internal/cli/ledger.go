package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/mlledger/internal/ledger"
	"github.com/me/mlledger/pkg/model"
	"github.com/spf13/cobra"
)

// now is swapped in tests so record ages are stable.
var now = time.Now

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the shared ledger",
	}
	cmd.AddCommand(
		newLedgerShowCmd(),
		newLedgerLatestCmd(),
		newLedgerAwaitCmd(),
	)
	return cmd
}

func newLedgerShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print every record in the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			l, err := ledger.Load(cmd.Context(), store, cfg.LedgerKey())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, l.Records)
			}

			data, err := ledger.Encode(l)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s, %s\n\n", cfg.LedgerKey(), humanize.Bytes(uint64(len(data))), pluralRecords(l.Len()))
			writeTable(out, l.Columns, l.Records)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func newLedgerLatestCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Print the record the deploy resolver would pick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			l, err := ledger.Load(cmd.Context(), store, cfg.LedgerKey())
			if err != nil {
				return err
			}
			rec, err := ledger.Latest(l.Records)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			writeRecord(cmd.OutOrStdout(), rec)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the record as JSON")
	return cmd
}

func newLedgerAwaitCmd() *cobra.Command {
	var interval, timeout time.Duration
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "await <correlation-key>",
		Short: "Wait until a record with the correlation key appears",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				interval = cfg.PollInterval
			}
			ctx, cancel := withTimeout(cmd.Context(), timeout)
			defer cancel()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			rec, err := ledger.NewPoller(store, cfg.LedgerKey(), interval, logger).AwaitRecord(ctx, args[0])
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			writeRecord(cmd.OutOrStdout(), rec)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Polling interval (default from config, 10s)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the record as JSON")
	return cmd
}

func writeTable(w io.Writer, columns []string, records []model.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := append([]string{"TIMESTAMP", "AGE", "CORRELATION_KEY", "JOB"}, columns...)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, rec := range records {
		row := []string{
			rec.FormatTimestamp(),
			humanize.RelTime(rec.Timestamp, now(), "ago", "from now"),
			rec.CorrelationKey,
			rec.JobIdentifier,
		}
		for _, col := range columns {
			if v, ok := rec.Metrics.Get(col); ok {
				row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
			} else {
				row = append(row, "-")
			}
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

func writeRecord(w io.Writer, rec model.Record) {
	fmt.Fprintf(w, "Timestamp:       %s UTC (%s)\n", rec.FormatTimestamp(), humanize.RelTime(rec.Timestamp, now(), "ago", "from now"))
	fmt.Fprintf(w, "Job:             %s\n", rec.JobIdentifier)
	fmt.Fprintf(w, "Correlation key: %s\n", rec.CorrelationKey)
	fmt.Fprintf(w, "Hyperparameters: %s\n", rec.Hyperparameters)
	for _, m := range rec.Metrics {
		fmt.Fprintf(w, "%s: %s\n", m.Name, strconv.FormatFloat(m.Value, 'g', -1, 64))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func pluralRecords(n int) string {
	if n == 1 {
		return "1 record"
	}
	return humanize.Comma(int64(n)) + " records"
}
