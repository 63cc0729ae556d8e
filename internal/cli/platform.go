package cli

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/me/mlledger/internal/platform"
	"github.com/spf13/cobra"
)

func newPlatformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "platform",
		Short: "Run the development job platform",
	}
	cmd.AddCommand(newPlatformServeCmd())
	return cmd
}

func newPlatformServeCmd() *cobra.Command {
	var addr, dbPath, workDir, trainCmd string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the platform API backed by SQLite",
		Long: "Serve the job platform REST API. With --train-cmd every submitted job " +
			"runs locally as that command, in its own job root.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := platform.NewStore(dbPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("database ready", "path", dbPath)

			var opts []platform.Option
			var runner *platform.Runner
			if fields := strings.Fields(trainCmd); len(fields) > 0 {
				runner = platform.NewRunner(fields, workDir, st, logger)
				opts = append(opts, platform.WithRunner(runner))
				logger.Info("local runner enabled", "command", fields, "work_dir", workDir)
			}
			srv := platform.NewServer(st, logger, opts...)

			httpServer := &http.Server{
				Addr:    addr,
				Handler: srv.Handler(),
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server starting", "addr", addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if runner != nil {
				runner.Wait()
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8090", "Listen address")
	cmd.Flags().StringVar(&dbPath, "db", "mlledger.db", "SQLite database path")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "Directory for job roots (default system temp dir)")
	cmd.Flags().StringVar(&trainCmd, "train-cmd", "", "Command run for each submitted job, e.g. \"train\"")
	return cmd
}
