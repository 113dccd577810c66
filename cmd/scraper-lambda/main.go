// Package main is the entry point for the scheduled scrape Lambda.
//
// An EventBridge rule invokes it once per interval. Each invocation runs a
// single bounded cycle through the same runner the long-lived scraper uses,
// so the lease, run history and metrics behave identically. Metrics go to
// CloudWatch unless METRICS_BACKEND says otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"farmconnect/internal/config"
	"farmconnect/internal/db"
	"farmconnect/internal/market"
	"farmconnect/internal/metrics"
	"farmconnect/internal/scheduler"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("scrape Lambda initializing (cold start)")

	runner, err := coldStart(context.Background(), logger)
	if err != nil {
		logger.Error("cold start failed", "error", err)
		os.Exit(1)
	}

	lambda.Start(newHandler(runner, logger))
}

// coldStart wires config, the pool and the runner once per container.
func coldStart(ctx context.Context, logger *slog.Logger) (*scheduler.Runner, error) {
	if os.Getenv("METRICS_BACKEND") == "" {
		_ = os.Setenv("METRICS_BACKEND", metrics.BackendCloudWatch)
	}

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	recorder, _, err := metrics.FromConfig(ctx, cfg.Observability, cfg.AWS, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	scraper := market.NewHTTPScraper(cfg.Scraper, db.NewMarketPriceRepository(pool), logger)
	return scheduler.NewRunner(scraper, scheduler.Config{
		Interval:     cfg.Scraper.Interval,
		CycleTimeout: cfg.Scraper.CycleTimeout,
		Holder:       os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME"),
		Lease:        db.NewScrapeLockRepository(pool),
		Runs:         db.NewScrapeRunRepository(pool),
		Metrics:      recorder,
		Logger:       logger,
	}), nil
}

// cycleRunner is satisfied by *scheduler.Runner.
type cycleRunner interface {
	RunOnce(ctx context.Context) (market.Result, error)
}

// newHandler returns the Lambda handler. A cycle that found the lease held
// reports an empty result rather than failing the invocation, so the
// scheduler does not retry it.
func newHandler(r cycleRunner, logger *slog.Logger) func(ctx context.Context, evt events.CloudWatchEvent) (market.Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, evt events.CloudWatchEvent) (market.Result, error) {
		logger.InfoContext(ctx, "scrape invoked", "event_id", evt.ID, "scheduled_at", evt.Time)

		res, err := r.RunOnce(ctx)
		if errors.Is(err, scheduler.ErrLeaseHeld) {
			logger.InfoContext(ctx, "scrape skipped; lease held by another invocation")
			return market.Result{}, nil
		}
		if err != nil {
			return res, fmt.Errorf("scrape cycle failed: %w", err)
		}
		return res, nil
	}
}
