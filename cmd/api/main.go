// Package main is the entry point for the FarmConnect read API.
//
// It loads configuration, connects to PostgreSQL, builds the advisory engine
// and the forecast service, and serves the /v1 endpoints on the core chassis
// until SIGINT or SIGTERM. Alongside the server it prunes expired
// forecast_cache and scrape_runs rows every RETENTION_SWEEP_INTERVAL.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"farmconnect/internal/advisory"
	"farmconnect/internal/api/handlers"
	"farmconnect/internal/config"
	"farmconnect/internal/core"
	"farmconnect/internal/db"
	"farmconnect/internal/forecasts"
	"farmconnect/internal/metrics"
	"farmconnect/internal/scheduler"
	"farmconnect/internal/types"
)

const shutdownTimeout = 10 * time.Second

func main() {
	migrateFirst := flag.Bool("migrate", false, "apply pending migrations before serving")
	flag.Parse()

	if err := run(*migrateFirst); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(migrateFirst bool) error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel).With("service", cfg.Service+"-api")
	logger.Info("farmconnect API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
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

	engine, err := loadEngine(cfg.Advisory, logger)
	if err != nil {
		return err
	}

	recorder, prom, err := metrics.FromConfig(ctx, cfg.Observability, cfg.AWS, logger)
	if err != nil {
		return err
	}

	cache := db.NewForecastCacheRepository(pool)
	runs := db.NewScrapeRunRepository(pool)

	var (
		advisories handlers.AdvisoryService
		locations  handlers.LocationSearcher
	)
	if err := cfg.RequireWeatherKey(); err != nil {
		logger.Warn("forecast advisories disabled", "reason", err.Error())
		advisories, locations = forecastsUnavailable{}, forecastsUnavailable{}
	} else {
		weather := forecasts.NewWeatherClient(cfg.Weather, logger)
		advisories = forecasts.NewService(weather, cache, engine, forecasts.ServiceConfig{
			TTL:     cfg.Weather.CacheTTL,
			Metrics: recorder,
			Logger:  logger,
		})
		locations = weather
	}

	deps := apiDeps{
		Engine:     engine,
		Advisories: advisories,
		Locations:  locations,
		Prices:     db.NewMarketPriceRepository(pool),
		Runs:       runs,
		Probes:     []core.HealthProbe{db.NewHealthProbe(pool)},
	}
	if prom != nil {
		deps.HTTPMetrics = prom
	}

	srv, err := newAPIServer(cfg, logger, deps)
	if err != nil {
		return err
	}
	cleanup := newCleanup(cfg.Retention, cache, runs, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, shutdownTimeout)
	})
	g.Go(func() error {
		return cleanup.Run(gctx)
	})
	return g.Wait()
}

// newCleanup prunes the forecast cache and the scrape history.
func newCleanup(cfg config.RetentionConfig, cache, runs scheduler.Pruner, logger *slog.Logger) *scheduler.CleanupService {
	return scheduler.NewCleanupService(cfg.SweepInterval, logger,
		scheduler.RetentionTarget{Name: "forecast_cache", Store: cache, Retention: cfg.ForecastCache},
		scheduler.RetentionTarget{Name: "scrape_runs", Store: runs, Retention: cfg.ScrapeRuns},
	)
}

// apiDeps are the collaborators the routes need, gathered so tests can
// build the full router without a database.
type apiDeps struct {
	Engine      *advisory.Engine
	Advisories  handlers.AdvisoryService
	Locations   handlers.LocationSearcher
	Prices      handlers.PriceLister
	Runs        handlers.RunReader
	Probes      []core.HealthProbe
	HTTPMetrics core.HTTPMetrics
}

// newAPIServer wires the handlers onto a core.Server and mounts its routes.
func newAPIServer(cfg *config.Config, logger *slog.Logger, deps apiDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = deps.Probes
	srv.Metrics = deps.HTTPMetrics

	advisoryHandler := handlers.NewAdvisoryHandler(deps.Engine, deps.Advisories, srv.Validator, handlers.AdvisoryHandlerConfig{
		DefaultDays: cfg.Weather.DefaultDays,
		GeneralTips: cfg.Advisory.GeneralTips,
		Logger:      logger,
	})
	priceHandler := handlers.NewMarketPriceHandler(deps.Prices, deps.Runs, cfg.Market.PollInterval, logger)
	locationHandler := handlers.NewLocationHandler(deps.Locations)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Route("/advisories", advisoryHandler.RegisterRoutes)
		r.Route("/market-prices", priceHandler.RegisterRoutes)
		r.Route("/locations", locationHandler.RegisterRoutes)
	})

	srv.MountRoutes()
	return srv, nil
}

// loadEngine builds the rule engine from TIP_LIBRARY_PATH, or from the
// embedded library when it is unset.
func loadEngine(cfg config.AdvisoryConfig, logger *slog.Logger) (*advisory.Engine, error) {
	if cfg.TipLibraryPath == "" {
		return advisory.NewEngine(advisory.DefaultLibrary()), nil
	}
	lib, err := advisory.LoadLibraryFile(cfg.TipLibraryPath)
	if err != nil {
		return nil, fmt.Errorf("loading tip library: %w", err)
	}
	logger.Info("tip library loaded", "path", cfg.TipLibraryPath, "rules", lib.Len())
	return advisory.NewEngine(lib), nil
}

// forecastsUnavailable stands in for the weather-backed endpoints when no
// API key is configured.
type forecastsUnavailable struct{}

func (forecastsUnavailable) Advisories(context.Context, string, int) (*forecasts.Report, error) {
	return nil, errForecastsDisabled
}

func (forecastsUnavailable) SearchLocations(context.Context, string) ([]forecasts.Location, error) {
	return nil, errForecastsDisabled
}

var errForecastsDisabled = types.NewAppError(types.ErrCodeUpstreamUnavailable,
	"forecast service is not configured", nil)

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
