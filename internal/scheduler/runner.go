// Package scheduler drives the market scraper: a perpetual ticker for the
// long-running process and a single-cycle entry point for one-shot and
// Lambda invocations.
//
// Cycles never overlap. A tick that fires while a cycle is running is dropped
// and logged. When a Lease is configured, a cycle also needs the shared
// database lock, so several scraper processes can run against one store
// without racing each other.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"farmconnect/internal/market"
	"farmconnect/internal/metrics"
	"farmconnect/internal/types"
)

// LockID is the scrape_locks row shared by every scraper process.
const LockID = "market_scrape"

// Scraper runs one scrape cycle.
type Scraper interface {
	ScrapeAndSave(ctx context.Context) (market.Result, error)
}

// Lease is a cross-process lock. *db.ScrapeLockRepository satisfies it.
type Lease interface {
	Acquire(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID, holder string) error
}

// RunRecorder persists cycle history. *db.ScrapeRunRepository satisfies it.
type RunRecorder interface {
	Start(ctx context.Context, cycleID string) (int64, error)
	Finish(ctx context.Context, id int64, status string, found, inserted, skipped int, runErr error) error
}

// ErrLeaseHeld is returned by RunOnce when another process holds the lease.
var ErrLeaseHeld = errors.New("scrape lease held by another process")

// Config configures a Runner. Lease, Runs and Metrics are optional.
type Config struct {
	Interval     time.Duration
	CycleTimeout time.Duration
	// Holder identifies this process in the lease table.
	Holder  string
	Lease   Lease
	Runs    RunRecorder
	Metrics metrics.ScrapeMetrics
	Logger  *slog.Logger
}

// Runner schedules scrape cycles.
type Runner struct {
	scraper Scraper
	cfg     Config
	logger  *slog.Logger

	busy     sync.Mutex
	inflight sync.WaitGroup

	// newCycleID is replaceable in tests.
	newCycleID func() string
}

// NewRunner creates a Runner. Zero durations default to 10s interval and 45s
// cycle timeout.
func NewRunner(s Scraper, cfg Config) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 45 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Holder == "" {
		cfg.Holder = uuid.NewString()
	}
	return &Runner{
		scraper:    s,
		cfg:        cfg,
		logger:     cfg.Logger,
		newCycleID: uuid.NewString,
	}
}

// Run starts a cycle immediately and then one per interval until ctx is
// cancelled. It waits for the in-flight cycle before returning. No cycle
// outcome stops the loop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "scrape scheduler started",
		"interval", r.cfg.Interval.String(),
		"cycle_timeout", r.cfg.CycleTimeout.String(),
		"holder", r.cfg.Holder,
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.inflight.Wait()
			r.logger.InfoContext(context.WithoutCancel(ctx), "scrape scheduler stopped")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick starts a cycle in the background unless one is already running.
func (r *Runner) tick(ctx context.Context) {
	if !r.busy.TryLock() {
		r.logger.WarnContext(ctx, "previous scrape cycle still running; tick skipped")
		r.cfg.Metrics.RecordSkippedTick(ctx)
		return
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer r.busy.Unlock()
		_, _ = r.RunOnce(ctx)
	}()
}

// RunOnce executes a single bounded cycle with its own cycle id, recording
// history and metrics. Errors are logged here and also returned so one-shot
// callers can set an exit status.
func (r *Runner) RunOnce(ctx context.Context) (res market.Result, err error) {
	cycleID := r.newCycleID()
	log := r.logger.With("cycle_id", cycleID)
	ctx = types.WithLogger(types.WithCycleID(ctx, cycleID), log)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CycleTimeout)
	defer cancel()

	if r.cfg.Lease != nil {
		ok, lerr := r.cfg.Lease.Acquire(ctx, LockID, r.cfg.Holder, 2*r.cfg.CycleTimeout)
		if lerr != nil {
			log.ErrorContext(ctx, "failed to acquire scrape lease", "error", lerr)
			return res, lerr
		}
		if !ok {
			log.InfoContext(ctx, "scrape lease held elsewhere; cycle skipped")
			r.cfg.Metrics.RecordSkippedTick(ctx)
			return res, ErrLeaseHeld
		}
		defer func() {
			if rerr := r.cfg.Lease.Release(context.WithoutCancel(ctx), LockID, r.cfg.Holder); rerr != nil {
				log.WarnContext(ctx, "failed to release scrape lease", "error", rerr)
			}
		}()
	}

	var runID int64
	if r.cfg.Runs != nil {
		id, serr := r.cfg.Runs.Start(ctx, cycleID)
		if serr != nil {
			log.WarnContext(ctx, "failed to record scrape start", "error", serr)
		} else {
			runID = id
		}
	}

	start := time.Now()
	res, err = r.scrape(ctx)
	elapsed := time.Since(start)

	status := res.Status()
	if err != nil {
		status = types.ScrapeResultFailed
		log.ErrorContext(ctx, "scrape cycle failed", "error", err, "duration_ms", elapsed.Milliseconds())
	} else {
		log.InfoContext(ctx, "scrape cycle complete",
			"result", status,
			"found", res.Found,
			"inserted", res.Inserted,
			"skipped", res.Skipped,
			"failed", res.Failed,
			"fallback", res.UsedFallback,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	r.cfg.Metrics.RecordCycle(ctx, status, res.Found, res.Inserted, elapsed)
	if res.UsedFallback {
		r.cfg.Metrics.RecordFallback(ctx, res.Failed)
	}

	if runID != 0 {
		// The cycle context may already be past its deadline.
		if ferr := r.cfg.Runs.Finish(context.WithoutCancel(ctx), runID, status, res.Found, res.Inserted, res.Skipped, err); ferr != nil {
			log.WarnContext(ctx, "failed to record scrape outcome", "error", ferr)
		}
	}
	return res, err
}

// scrape calls the scraper and converts a panic into an error.
func (r *Runner) scrape(ctx context.Context) (res market.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			types.LoggerFromContext(ctx, r.logger).ErrorContext(ctx, "scrape cycle panicked",
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			err = types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("scrape panicked: %v", p), nil)
		}
	}()
	return r.scraper.ScrapeAndSave(ctx)
}
