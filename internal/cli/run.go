package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	runSources   []string
	runStartDate string
	runEndDate   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process everything new since the last run, once",
	RunE:  runOnce,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run periodically and serve health and metrics",
	RunE:  runWatch,
}

func init() {
	runCmd.Flags().StringSliceVar(&runSources, "source", nil, "only run these source ids")
	runCmd.Flags().StringVar(&runStartDate, "start-date", "", "ignore posts before this date (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runEndDate, "end-date", "", "ignore posts after this date (YYYY-MM-DD)")
	rootCmd.AddCommand(runCmd, watchCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	app, err := newWatcher(runSources, runStartDate, runEndDate)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, runErr := app.RunOnce(ctx)
	for _, r := range results {
		s := r.Summary
		slog.Info("Source finished",
			"source", s.SourceID,
			"fetched", s.Fetched,
			"analyzed", s.Analyzed,
			"filtered", s.Filtered,
			"degraded", s.Degraded,
			"failed", s.Failed,
			"cursor", s.End.LastItemID,
			"error", r.Err,
		)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	app.Close(closeCtx)
	return runErr
}

func runWatch(cmd *cobra.Command, args []string) error {
	app, err := newWatcher(nil, "", "")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start Watcher", "error", err)
		return err
	}

	slog.Info("Watcher started", "config", cfgPath)

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		return err
	}
	slog.Info("Watcher stopped gracefully")
	return nil
}
