package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	_ ScrapeMetrics   = (*Prometheus)(nil)
	_ ForecastMetrics = (*Prometheus)(nil)
)

// Prometheus records metrics into its own registry, exposed by Handler.
type Prometheus struct {
	registry *prometheus.Registry

	scrapeCycles   *prometheus.CounterVec
	scrapeDuration *prometheus.HistogramVec
	rowsFound      prometheus.Counter
	rowsSaved      prometheus.Counter
	skippedTicks   prometheus.Counter
	fallbacks      prometheus.Counter
	fallbackFailed prometheus.Counter
	forecastCache  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewPrometheus creates a recorder with Go runtime and process collectors
// registered alongside the application metrics.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p := &Prometheus{
		registry: registry,
		scrapeCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmconnect_scrape_cycles_total",
			Help: "Scrape cycles by result.",
		}, []string{"result"}),
		scrapeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "farmconnect_scrape_duration_seconds",
			Help:    "Duration of scrape cycles.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		rowsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmconnect_scrape_rows_found_total",
			Help: "Price rows extracted from the source page.",
		}),
		rowsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmconnect_scrape_rows_saved_total",
			Help: "Price rows written to the store.",
		}),
		skippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmconnect_scrape_ticks_skipped_total",
			Help: "Ticks dropped because the previous cycle was still running.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmconnect_upsert_fallbacks_total",
			Help: "Cycles that fell back to per-row writes.",
		}),
		fallbackFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmconnect_upsert_fallback_failed_rows_total",
			Help: "Rows the per-row fallback could not write.",
		}),
		forecastCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmconnect_forecast_cache_total",
			Help: "Forecast cache lookups by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmconnect_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "farmconnect_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	registry.MustRegister(
		p.scrapeCycles,
		p.scrapeDuration,
		p.rowsFound,
		p.rowsSaved,
		p.skippedTicks,
		p.fallbacks,
		p.fallbackFailed,
		p.forecastCache,
		p.httpRequests,
		p.httpDuration,
	)
	return p
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the exposition format for the registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) RecordCycle(_ context.Context, result string, found, saved int, duration time.Duration) {
	p.scrapeCycles.WithLabelValues(result).Inc()
	p.scrapeDuration.WithLabelValues(result).Observe(duration.Seconds())
	p.rowsFound.Add(float64(found))
	p.rowsSaved.Add(float64(saved))
}

func (p *Prometheus) RecordSkippedTick(context.Context) {
	p.skippedTicks.Inc()
}

func (p *Prometheus) RecordFallback(_ context.Context, failed int) {
	p.fallbacks.Inc()
	p.fallbackFailed.Add(float64(failed))
}

func (p *Prometheus) RecordForecastCache(_ context.Context, outcome string) {
	p.forecastCache.WithLabelValues(outcome).Inc()
}

// HTTPMiddleware counts requests and observes latency. Routes are labelled
// by their chi pattern so path parameters do not explode cardinality;
// unmatched requests are labelled "unmatched".
func (p *Prometheus) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		p.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		p.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
