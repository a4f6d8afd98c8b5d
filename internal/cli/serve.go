package cli

import (
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/snowclass/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the classification poller and save workers",
	Long: `Run the background classification service until interrupted.

Jobs left SCHEDULED or RUNNING by a previous process are marked FAILED on
start. Prometheus metrics are served on /metrics, operation timings as JSON
on /stats and a liveness check on /health at the configured metrics address.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ops := server.New(cfg.MetricsAddr, svcMetrics.Handler(), svcMetrics.StatsHandler(), dbClient, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ops.Run(ctx)
	})
	g.Go(func() error {
		return svc.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
