package forecasts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"farmconnect/internal/advisory"
	"farmconnect/internal/db"
	"farmconnect/internal/metrics"
	"farmconnect/internal/types"
)

// Forecaster fetches raw forecast payloads. *WeatherClient satisfies it.
type Forecaster interface {
	Forecast(ctx context.Context, location string, days int) ([]byte, error)
}

// Cache stores raw payloads by key. *db.ForecastCacheRepository satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) (*db.CachedForecast, error)
	Put(ctx context.Context, key string, payload []byte, fetchedAt time.Time) error
}

// Report is the advisory response for a location.
type Report struct {
	Location   Place               `json:"location"`
	Forecast   []types.ForecastDay `json:"forecast"`
	Advisories []types.DayAdvisory `json:"advisories"`
	FetchedAt  time.Time           `json:"fetched_at"`
	// Stale is set when the upstream failed and an expired cache entry was
	// served instead.
	Stale bool `json:"stale"`
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	TTL     time.Duration
	Metrics metrics.ForecastMetrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Service answers advisory requests from cached or fresh forecasts.
type Service struct {
	client  Forecaster
	cache   Cache
	engine  *advisory.Engine
	ttl     time.Duration
	metrics metrics.ForecastMetrics
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group
}

// NewService creates a Service. A nil cache disables caching.
func NewService(client Forecaster, cache Cache, engine *advisory.Engine, cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	return &Service{
		client:  client,
		cache:   cache,
		engine:  engine,
		ttl:     cfg.TTL,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// CacheKey normalizes a location and day count into a cache key. Case and
// inner whitespace differences map to the same key.
func CacheKey(location string, days int) string {
	loc := strings.Join(strings.Fields(strings.ToLower(location)), " ")
	return fmt.Sprintf("%s|%d", loc, days)
}

// ValidateRequest checks a location and day count.
func ValidateRequest(location string, days int) error {
	if strings.TrimSpace(location) == "" {
		return types.NewAppError(types.ErrCodeValidationInvalidLocation, "location is required", nil)
	}
	if days < 1 || days > MaxForecastDays {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationForecastDays,
			fmt.Sprintf("days must be between 1 and %d", MaxForecastDays), nil,
			map[string]any{"days": days})
	}
	return nil
}

type fetched struct {
	payload   []byte
	fetchedAt time.Time
	stale     bool
}

// Advisories returns the forecast and per-day tips for location. Concurrent
// calls for the same key share one upstream request.
func (s *Service) Advisories(ctx context.Context, location string, days int) (*Report, error) {
	if err := ValidateRequest(location, days); err != nil {
		return nil, err
	}
	key := CacheKey(location, days)

	v, err, _ := s.group.Do(key, func() (any, error) {
		// Detach from the first caller's cancellation; other callers share
		// this result.
		return s.load(context.WithoutCancel(ctx), key, strings.TrimSpace(location), days)
	})
	if err != nil {
		return nil, err
	}
	f := v.(fetched)

	place, forecast, err := ParseForecast(f.payload)
	if err != nil {
		return nil, err
	}
	return &Report{
		Location:   place,
		Forecast:   forecast,
		Advisories: s.engine.GenerateTips(forecast),
		FetchedAt:  f.fetchedAt,
		Stale:      f.stale,
	}, nil
}

func (s *Service) load(ctx context.Context, key, location string, days int) (fetched, error) {
	log := types.LoggerFromContext(ctx, s.logger)
	now := s.now()

	var cached *db.CachedForecast
	if s.cache != nil {
		c, err := s.cache.Get(ctx, key)
		var appErr *types.AppError
		switch {
		case err == nil:
			cached = c
		case errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundForecast:
		default:
			log.WarnContext(ctx, "forecast cache read failed", "key", key, "error", err)
		}
	}

	if cached != nil && cached.Age(now) < s.ttl {
		s.metrics.RecordForecastCache(ctx, metrics.CacheHit)
		return fetched{payload: cached.Payload, fetchedAt: cached.FetchedAt}, nil
	}

	payload, err := s.client.Forecast(ctx, location, days)
	if err != nil {
		var appErr *types.AppError
		if cached != nil && !(errors.As(err, &appErr) && appErr.Code == types.ErrCodeValidationInvalidLocation) {
			log.WarnContext(ctx, "weather api failed; serving stale forecast",
				"key", key,
				"age", cached.Age(now).String(),
				"error", err,
			)
			s.metrics.RecordForecastCache(ctx, metrics.CacheStale)
			return fetched{payload: cached.Payload, fetchedAt: cached.FetchedAt, stale: true}, nil
		}
		return fetched{}, err
	}
	s.metrics.RecordForecastCache(ctx, metrics.CacheMiss)

	// Reject payloads that will not parse before they reach the cache.
	if _, _, perr := ParseForecast(payload); perr != nil {
		return fetched{}, perr
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, key, payload, now); err != nil {
			log.WarnContext(ctx, "forecast cache write failed", "key", key, "error", err)
		}
	}
	return fetched{payload: payload, fetchedAt: now}, nil
}
