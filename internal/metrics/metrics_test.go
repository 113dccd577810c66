package metrics

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmconnect/internal/config"
	"farmconnect/internal/types"
)

type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func dimension(dims []cwtypes.Dimension, name string) string {
	for _, d := range dims {
		if *d.Name == name {
			return *d.Value
		}
	}
	return ""
}

func TestCloudWatch_RecordCycle(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatch(cw, "", nil)

	m.RecordCycle(context.Background(), types.ScrapeResultSuccess, 42, 40, 1500*time.Millisecond)

	require.Len(t, cw.calls, 1)
	input := cw.calls[0]
	assert.Equal(t, types.MetricNamespace, *input.Namespace)
	require.Len(t, input.MetricData, 4)

	byName := map[string]cwtypes.MetricDatum{}
	for _, d := range input.MetricData {
		byName[*d.MetricName] = d
		assert.Equal(t, types.ScrapeResultSuccess, dimension(d.Dimensions, types.DimResult))
	}
	assert.Equal(t, 1.0, *byName[types.MetricScrapeCycle].Value)
	assert.Equal(t, 42.0, *byName[types.MetricScrapeRowsFound].Value)
	assert.Equal(t, 40.0, *byName[types.MetricScrapeRowsSaved].Value)
	assert.Equal(t, 1500.0, *byName[types.MetricScrapeDuration].Value)
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, byName[types.MetricScrapeDuration].Unit)
}

func TestCloudWatch_SkippedFallbackAndCache(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatch(cw, "Custom", nil)

	m.RecordSkippedTick(context.Background())
	m.RecordFallback(context.Background(), 3)
	m.RecordForecastCache(context.Background(), CacheStale)

	require.Len(t, cw.calls, 3)
	assert.Equal(t, "Custom", *cw.calls[0].Namespace)
	assert.Equal(t, types.MetricScrapeSkipped, *cw.calls[0].MetricData[0].MetricName)
	assert.Empty(t, cw.calls[0].MetricData[0].Dimensions)
	assert.Equal(t, 3.0, *cw.calls[1].MetricData[0].Value)
	assert.Equal(t, CacheStale, dimension(cw.calls[2].MetricData[0].Dimensions, types.DimResult))
}

func TestCloudWatch_ErrorIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	m := NewCloudWatch(cw, "", slog.New(slog.NewJSONHandler(&buf, nil)))

	assert.NotPanics(t, func() {
		m.RecordSkippedTick(context.Background())
	})
	assert.Contains(t, buf.String(), "throttled")
}

func exposition(t *testing.T, p *Prometheus) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestPrometheus_ScrapeMetrics(t *testing.T) {
	p := NewPrometheus()
	ctx := context.Background()

	p.RecordCycle(ctx, types.ScrapeResultSuccess, 10, 9, time.Second)
	p.RecordCycle(ctx, types.ScrapeResultEmpty, 0, 0, time.Second)
	p.RecordSkippedTick(ctx)
	p.RecordFallback(ctx, 2)
	p.RecordForecastCache(ctx, CacheHit)

	out := exposition(t, p)
	assert.Contains(t, out, `farmconnect_scrape_cycles_total{result="success"} 1`)
	assert.Contains(t, out, `farmconnect_scrape_cycles_total{result="empty"} 1`)
	assert.Contains(t, out, "farmconnect_scrape_rows_found_total 10")
	assert.Contains(t, out, "farmconnect_scrape_rows_saved_total 9")
	assert.Contains(t, out, "farmconnect_scrape_ticks_skipped_total 1")
	assert.Contains(t, out, "farmconnect_upsert_fallback_failed_rows_total 2")
	assert.Contains(t, out, `farmconnect_forecast_cache_total{outcome="hit"} 1`)
	assert.Contains(t, out, "go_goroutines")
}

func TestPrometheus_HTTPMiddleware(t *testing.T) {
	p := NewPrometheus()
	r := chi.NewRouter()
	r.Use(p.HTTPMiddleware)
	r.Get("/v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/7", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	out := exposition(t, p)
	assert.Contains(t, out, `farmconnect_http_requests_total{method="GET",route="/v1/items/{id}",status="418"} 1`)
	assert.NotContains(t, out, "/v1/items/7")
}

func TestNop(t *testing.T) {
	var m ScrapeMetrics = Nop{}
	assert.NotPanics(t, func() {
		m.RecordCycle(context.Background(), types.ScrapeResultFailed, 0, 0, 0)
		m.RecordSkippedTick(context.Background())
		m.RecordFallback(context.Background(), 1)
	})
}

func TestFromConfig(t *testing.T) {
	ctx := context.Background()

	rec, prom, err := FromConfig(ctx, config.ObservabilityConfig{MetricsBackend: BackendPrometheus}, config.AWSConfig{}, nil)
	require.NoError(t, err)
	require.NotNil(t, prom)
	assert.Same(t, prom, rec)

	rec, prom, err = FromConfig(ctx, config.ObservabilityConfig{MetricsBackend: BackendNone}, config.AWSConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, prom)
	assert.Equal(t, Nop{}, rec)

	rec, prom, err = FromConfig(ctx, config.ObservabilityConfig{MetricsBackend: BackendCloudWatch, MetricNamespace: "Test"},
		config.AWSConfig{Region: "af-south-1", EndpointURL: "http://localhost:4566"}, nil)
	require.NoError(t, err)
	assert.Nil(t, prom)
	assert.IsType(t, &CloudWatch{}, rec)

	_, _, err = FromConfig(ctx, config.ObservabilityConfig{MetricsBackend: "statsd"}, config.AWSConfig{}, nil)
	assert.Error(t, err)
}
