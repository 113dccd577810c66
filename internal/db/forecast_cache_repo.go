package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"

	"farmconnect/internal/types"
)

// CachedForecast is a raw upstream forecast payload and when it was fetched.
type CachedForecast struct {
	Key       string
	Payload   []byte
	FetchedAt time.Time
}

// Age reports how old the entry is at now.
func (c *CachedForecast) Age(now time.Time) time.Duration {
	return now.Sub(c.FetchedAt)
}

// ForecastCacheRepository stores weather API payloads zstd-compressed in the
// forecast_cache table.
type ForecastCacheRepository struct {
	db DBTX

	encOnce sync.Once
	enc     *zstd.Encoder
	decPool sync.Pool
}

func NewForecastCacheRepository(db DBTX) *ForecastCacheRepository {
	return &ForecastCacheRepository{
		db: db,
		decPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

func (r *ForecastCacheRepository) encoder() *zstd.Encoder {
	r.encOnce.Do(func() {
		// A nil writer with default options cannot fail.
		r.enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return r.enc
}

// Get returns the entry for key, or a not_found AppError when absent.
func (r *ForecastCacheRepository) Get(ctx context.Context, key string) (*CachedForecast, error) {
	var (
		compressed []byte
		entry      = CachedForecast{Key: key}
	)
	err := r.db.QueryRow(ctx,
		`SELECT payload, fetched_at FROM forecast_cache WHERE cache_key = $1`, key,
	).Scan(&compressed, &entry.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundForecast, "no cached forecast", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read forecast cache", err)
	}

	dec := r.decPool.Get().(*zstd.Decoder)
	defer r.decPool.Put(dec)
	entry.Payload, err = dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalParse, "corrupt forecast cache entry", err)
	}
	return &entry, nil
}

// Put stores payload under key, replacing any previous entry.
func (r *ForecastCacheRepository) Put(ctx context.Context, key string, payload []byte, fetchedAt time.Time) error {
	compressed := r.encoder().EncodeAll(payload, nil)
	_, err := r.db.Exec(ctx,
		`INSERT INTO forecast_cache (cache_key, payload, fetched_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (cache_key) DO UPDATE
		   SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at`,
		key, compressed, fetchedAt.UTC(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write forecast cache", err)
	}
	return nil
}

// DeleteOlderThan prunes entries fetched before cutoff and returns how many
// were removed.
func (r *ForecastCacheRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM forecast_cache WHERE fetched_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune forecast cache", err)
	}
	return tag.RowsAffected(), nil
}
