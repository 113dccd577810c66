package types

// Telemetry metric names shared by the CloudWatch and Prometheus recorders.
const (
	MetricScrapeCycle      = "ScrapeCycle"
	MetricScrapeRowsFound  = "ScrapeRowsFound"
	MetricScrapeRowsSaved  = "ScrapeRowsSaved"
	MetricScrapeDuration   = "ScrapeDuration"
	MetricScrapeSkipped    = "ScrapeTickSkipped"
	MetricUpsertFallback   = "UpsertFallback"
	MetricForecastCacheHit = "ForecastCacheHit"

	// Dimension Keys
	DimResult = "Result"

	// Metric Namespace
	MetricNamespace = "FarmConnect"
)

// ScrapeResult values used for the Result dimension.
const (
	ScrapeResultSuccess = "success"
	ScrapeResultEmpty   = "empty"
	ScrapeResultFailed  = "failed"
)
