package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"autoria-crawler/internal/app"
	"autoria-crawler/internal/metrics"
	"autoria-crawler/internal/scheduler"
)

// newScheduleCmd creates the 'schedule' subcommand: a long-running loop
// that crawls and backs up at the configured daily times and serves the
// Prometheus endpoint.
func newScheduleCmd() *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the daily crawl and backup loop",
		Long: `Stays resident, crawling the catalog at schedule.scrape_time and
dumping the database at schedule.backup_time each day. Serves Prometheus
metrics on metrics.addr. Stops cleanly on SIGINT/SIGTERM.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runSchedule(cmd.Context(), appInstance, runNow)
		},
	}

	cmd.Flags().BoolVar(&runNow, "run-now", false, "trigger one crawl immediately before entering the loop")
	return cmd
}

func runSchedule(ctx context.Context, appInstance *app.App, runNow bool) error {
	logger := appInstance.Logger
	cfg := appInstance.Config

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	crawlJob := func() {
		engine, err := appInstance.NewEngine()
		if err != nil {
			logger.Error("engine build failed", zap.Error(err))
			return
		}
		stats := engine.Run(ctx, cfg.Crawler.FullUpdate)
		logger.Info("scheduled crawl finished",
			zap.Int("pages_processed", stats.PagesProcessed),
			zap.Int("listings_saved", stats.ListingsSaved),
		)
	}
	backupJob := func() {
		if err := appInstance.Backup(ctx); err != nil {
			logger.Error("scheduled backup failed", zap.Error(err))
		}
	}

	sched := scheduler.New(logger)
	if err := sched.Daily(cfg.Schedule.ScrapeTime, "scrape", crawlJob); err != nil {
		return err
	}
	if err := sched.Daily(cfg.Schedule.BackupTime, "backup", backupJob); err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	if runNow {
		logger.Info("running immediate crawl before entering schedule loop")
		crawlJob()
	}

	sched.Start()
	logger.Info("scheduler running",
		zap.String("scrape_time", cfg.Schedule.ScrapeTime),
		zap.String("backup_time", cfg.Schedule.BackupTime),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	<-sched.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
