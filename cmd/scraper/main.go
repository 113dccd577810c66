// Package main runs the market price scraper as a long-lived process.
//
// It scrapes once at startup and then every SCRAPE_INTERVAL until SIGINT or
// SIGTERM, waiting for the in-flight cycle before exiting. With -once it runs
// a single cycle and exits non-zero if that cycle failed. With the prometheus
// metrics backend it also serves /metrics on METRICS_ADDR. The perpetual mode
// prunes scrape_runs older than SCRAPE_RUN_RETENTION.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"farmconnect/internal/config"
	"farmconnect/internal/db"
	"farmconnect/internal/market"
	"farmconnect/internal/metrics"
	"farmconnect/internal/scheduler"
)

func main() {
	once := flag.Bool("once", false, "run a single scrape cycle and exit")
	migrateFirst := flag.Bool("migrate", false, "apply pending migrations before scraping")
	flag.Parse()

	if err := run(*once, *migrateFirst); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(once, migrateFirst bool) error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel).With("service", cfg.Service+"-scraper")
	logger.Info("farmconnect scraper starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"target_url", cfg.Scraper.TargetURL,
		"interval", cfg.Scraper.Interval.String(),
		"once", once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrateFirst {
		if err := db.Migrate(pool, logger); err != nil {
			return err
		}
	}

	recorder, prom, err := metrics.FromConfig(ctx, cfg.Observability, cfg.AWS, logger)
	if err != nil {
		return err
	}

	runs := db.NewScrapeRunRepository(pool)
	scraper := market.NewHTTPScraper(cfg.Scraper, db.NewMarketPriceRepository(pool), logger)
	runner := scheduler.NewRunner(scraper, scheduler.Config{
		Interval:     cfg.Scraper.Interval,
		CycleTimeout: cfg.Scraper.CycleTimeout,
		Lease:        db.NewScrapeLockRepository(pool),
		Runs:         runs,
		Metrics:      recorder,
		Logger:       logger,
	})

	if once {
		return runOnce(ctx, runner)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})
	cleanup := scheduler.NewCleanupService(cfg.Retention.SweepInterval, logger,
		scheduler.RetentionTarget{Name: "scrape_runs", Store: runs, Retention: cfg.Retention.ScrapeRuns})
	g.Go(func() error {
		return cleanup.Run(gctx)
	})
	if prom != nil {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Observability.MetricsAddr, prom.Handler(), logger)
		})
	}
	return g.Wait()
}

// cycleRunner is satisfied by *scheduler.Runner.
type cycleRunner interface {
	RunOnce(ctx context.Context) (market.Result, error)
}

// runOnce runs a single cycle. A lease held elsewhere is not a failure: the
// other process is doing the work.
func runOnce(ctx context.Context, r cycleRunner) error {
	_, err := r.RunOnce(ctx)
	if errors.Is(err, scheduler.ErrLeaseHeld) {
		return nil
	}
	return err
}

// serveMetrics exposes the Prometheus registry until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
