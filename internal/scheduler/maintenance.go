package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Pruner deletes rows older than cutoff. *db.ForecastCacheRepository and
// *db.ScrapeRunRepository satisfy it.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionTarget keeps one table to a maximum age.
type RetentionTarget struct {
	Name      string
	Store     Pruner
	Retention time.Duration
}

// CleanupService prunes expired rows on a fixed interval.
type CleanupService struct {
	targets  []RetentionTarget
	interval time.Duration
	logger   *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewCleanupService creates a CleanupService. A zero interval defaults to
// one hour. Targets with a nil store or non-positive retention are ignored.
func NewCleanupService(interval time.Duration, logger *slog.Logger, targets ...RetentionTarget) *CleanupService {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	kept := make([]RetentionTarget, 0, len(targets))
	for _, t := range targets {
		if t.Store != nil && t.Retention > 0 {
			kept = append(kept, t)
		}
	}
	return &CleanupService{
		targets:  kept,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Sweep prunes every target once relative to now and returns the total
// number of rows removed. A failing target is logged and retried on the
// next sweep; the others still run.
func (c *CleanupService) Sweep(ctx context.Context, now time.Time) (int64, error) {
	var (
		total int64
		errs  []error
	)
	for _, t := range c.targets {
		cutoff := now.Add(-t.Retention)
		n, err := t.Store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			c.logger.ErrorContext(ctx, "retention sweep failed",
				"target", t.Name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("pruning %s: %w", t.Name, err))
			continue
		}
		total += n
		if n > 0 {
			c.logger.InfoContext(ctx, "retention sweep pruned rows",
				"target", t.Name,
				"deleted", n,
				"cutoff", cutoff.Format(time.RFC3339),
			)
		}
	}
	return total, errors.Join(errs...)
}

// Run sweeps immediately and then once per interval until ctx is cancelled.
// Sweep failures never stop the loop.
func (c *CleanupService) Run(ctx context.Context) error {
	if len(c.targets) == 0 {
		return nil
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		_, _ = c.Sweep(ctx, c.now())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
