package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"farmconnect/internal/types"
)

// ScrapeLockRepository is a lease lock in the scrape_locks table. It keeps a
// Lambda invocation and a long-running scraper from scraping concurrently.
type ScrapeLockRepository struct {
	db DBTX
}

func NewScrapeLockRepository(db DBTX) *ScrapeLockRepository {
	return &ScrapeLockRepository{db: db}
}

// Acquire takes lockID for holder until now+ttl. It succeeds when the lock is
// free, expired, or already held by holder.
func (r *ScrapeLockRepository) Acquire(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx,
		`INSERT INTO scrape_locks (id, holder, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET holder = EXCLUDED.holder,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE scrape_locks.expires_at < $3 OR scrape_locks.holder = $2`,
		lockID, holder, now, now.Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire scrape lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release drops the lock if holder still owns it.
func (r *ScrapeLockRepository) Release(ctx context.Context, lockID, holder string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM scrape_locks WHERE id = $1 AND holder = $2`, lockID, holder)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release scrape lock", err)
	}
	return nil
}

// ScrapeRun is one row of scrape_runs.
type ScrapeRun struct {
	ID         int64      `json:"id"`
	CycleID    string     `json:"cycle_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Found      int        `json:"found"`
	Inserted   int        `json:"inserted"`
	Skipped    int        `json:"skipped"`
	Error      *string    `json:"error,omitempty"`
}

// ScrapeRunRepository records the outcome of every scrape cycle.
type ScrapeRunRepository struct {
	db DBTX
}

func NewScrapeRunRepository(db DBTX) *ScrapeRunRepository {
	return &ScrapeRunRepository{db: db}
}

// Start inserts a running row and returns its id.
func (r *ScrapeRunRepository) Start(ctx context.Context, cycleID string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO scrape_runs (cycle_id, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		cycleID,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start scrape run", err)
	}
	return id, nil
}

// Finish stamps the outcome. status is one of the types.ScrapeResult* values.
func (r *ScrapeRunRepository) Finish(ctx context.Context, id int64, status string, found, inserted, skipped int, runErr error) error {
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE scrape_runs
		    SET finished_at = NOW(), status = $2, found = $3, inserted = $4, skipped = $5, error = $6
		  WHERE id = $1`,
		id, status, found, inserted, skipped, msg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish scrape run", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "scrape run not found", nil)
	}
	return nil
}

// Latest returns the most recently started run.
func (r *ScrapeRunRepository) Latest(ctx context.Context) (*ScrapeRun, error) {
	var run ScrapeRun
	err := r.db.QueryRow(ctx,
		`SELECT id, cycle_id, started_at, finished_at, status, found, inserted, skipped, error
		   FROM scrape_runs
		  ORDER BY started_at DESC
		  LIMIT 1`,
	).Scan(&run.ID, &run.CycleID, &run.StartedAt, &run.FinishedAt, &run.Status,
		&run.Found, &run.Inserted, &run.Skipped, &run.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundPrice, "no scrape has run yet", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read latest scrape run", err)
	}
	return &run, nil
}

// DeleteOlderThan removes runs started before cutoff and returns how many
// were removed. The newest run always survives so the status endpoint keeps
// an answer while the scraper is idle.
func (r *ScrapeRunRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM scrape_runs
		  WHERE started_at < $1
		    AND id <> (SELECT id FROM scrape_runs ORDER BY started_at DESC LIMIT 1)`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune scrape runs", err)
	}
	return tag.RowsAffected(), nil
}
