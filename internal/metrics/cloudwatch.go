package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"farmconnect/internal/types"
)

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var (
	_ ScrapeMetrics   = (*CloudWatch)(nil)
	_ ForecastMetrics = (*CloudWatch)(nil)
)

// CloudWatch publishes metrics to a CloudWatch namespace. Publishing errors
// are logged and never returned; telemetry must not fail a cycle.
//
// Metrics emitted:
//   - ScrapeCycle: Dims {Result}
//   - ScrapeRowsFound, ScrapeRowsSaved: Dims {Result}
//   - ScrapeDuration: milliseconds, Dims {Result}
//   - ScrapeTickSkipped, UpsertFallback: no dims
//   - ForecastCacheHit: Dims {Result}
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatch creates a CloudWatch recorder. An empty namespace uses
// types.MetricNamespace.
func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger}
}

func resultDim(result string) []cwtypes.Dimension {
	return []cwtypes.Dimension{{Name: aws.String(types.DimResult), Value: aws.String(result)}}
}

// RecordCycle sends the four cycle datums in a single PutMetricData call.
func (m *CloudWatch) RecordCycle(ctx context.Context, result string, found, saved int, duration time.Duration) {
	dims := resultDim(result)
	m.put(ctx, "cycle",
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricScrapeCycle),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricScrapeRowsFound),
			Value:      aws.Float64(float64(found)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricScrapeRowsSaved),
			Value:      aws.Float64(float64(saved)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricScrapeDuration),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	)
}

func (m *CloudWatch) RecordSkippedTick(ctx context.Context) {
	m.put(ctx, "skipped_tick", cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricScrapeSkipped),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// RecordFallback records the number of rows the fallback failed to write.
func (m *CloudWatch) RecordFallback(ctx context.Context, failed int) {
	m.put(ctx, "fallback", cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricUpsertFallback),
		Value:      aws.Float64(float64(failed)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (m *CloudWatch) RecordForecastCache(ctx context.Context, outcome string) {
	m.put(ctx, "forecast_cache", cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricForecastCacheHit),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: resultDim(outcome),
	})
}

func (m *CloudWatch) put(ctx context.Context, what string, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record metric", "metric", what, "error", err.Error())
	}
}
