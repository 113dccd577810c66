package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"farmconnect/internal/config"
)

// Backend names accepted by METRICS_BACKEND.
const (
	BackendPrometheus = "prometheus"
	BackendCloudWatch = "cloudwatch"
	BackendNone       = "none"
)

// FromConfig builds the configured recorder. The Prometheus recorder is also
// returned on its own so the caller can serve its registry; it is nil for
// the other backends.
func FromConfig(ctx context.Context, obs config.ObservabilityConfig, awsCfg config.AWSConfig, logger *slog.Logger) (Recorder, *Prometheus, error) {
	switch obs.MetricsBackend {
	case BackendPrometheus, "":
		p := NewPrometheus()
		return p, p, nil
	case BackendCloudWatch:
		sdkCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(awsCfg.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS SDK config: %w", err)
		}
		client := cloudwatch.NewFromConfig(sdkCfg, func(o *cloudwatch.Options) {
			if awsCfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(awsCfg.EndpointURL)
			}
		})
		return NewCloudWatch(client, obs.MetricNamespace, logger), nil, nil
	case BackendNone:
		return Nop{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown metrics backend %q", obs.MetricsBackend)
	}
}
