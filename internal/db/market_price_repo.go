package db

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"farmconnect/internal/types"
)

// MarketPriceRepository reads and writes the market_prices table. Rows are
// keyed by (crop_name, market) and writes are last-writer-wins.
type MarketPriceRepository struct {
	db DBTX
}

func NewMarketPriceRepository(db DBTX) *MarketPriceRepository {
	return &MarketPriceRepository{db: db}
}

// UpsertBatch writes rows in one statement. Postgres rejects an
// ON CONFLICT DO UPDATE that touches the same key twice, so duplicate keys
// are collapsed first, keeping the later row. Returns rows affected.
//
// Arrays are bound as text and cast server-side so the statement has a fixed
// parameter count regardless of batch size.
func (r *MarketPriceRepository) UpsertBatch(ctx context.Context, rows []types.MarketPrice) (int64, error) {
	rows = dedupeByKey(rows)
	if len(rows) == 0 {
		return 0, nil
	}

	n := len(rows)
	var (
		crops    = make([]string, n)
		current  = make([]string, n)
		previous = make([]string, n)
		changes  = make([]float64, n)
		trends   = make([]string, n)
		units    = make([]string, n)
		markets  = make([]string, n)
		volumes  = make([]string, n)
		updated  = make([]time.Time, n)
		regions  = make([]string, n)
	)
	for i, p := range rows {
		crops[i] = p.CropName
		current[i] = p.CurrentPrice.StringFixed(2)
		previous[i] = p.PreviousPrice.StringFixed(2)
		changes[i] = p.PriceChange
		trends[i] = string(p.Trend)
		units[i] = p.Unit
		markets[i] = p.Market
		volumes[i] = p.Volume
		updated[i] = p.LastUpdated.UTC()
		regions[i] = p.Region
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO market_prices
		   (crop_name, current_price, previous_price, price_change, trend, unit, market, volume, last_updated, region)
		 SELECT * FROM unnest(
		   $1::text[], $2::numeric[], $3::numeric[], $4::float8[], $5::text[],
		   $6::text[], $7::text[], $8::text[], $9::timestamptz[], $10::text[])
		 ON CONFLICT (crop_name, market) DO UPDATE
		   SET current_price  = EXCLUDED.current_price,
		       previous_price = EXCLUDED.previous_price,
		       price_change   = EXCLUDED.price_change,
		       trend          = EXCLUDED.trend,
		       unit           = EXCLUDED.unit,
		       volume         = EXCLUDED.volume,
		       last_updated   = EXCLUDED.last_updated,
		       region         = EXCLUDED.region`,
		crops, current, previous, changes, trends, units, markets, volumes, updated, regions,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to upsert market prices", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateByKey overwrites the row with p's key. It reports false when no such
// row exists.
func (r *MarketPriceRepository) UpdateByKey(ctx context.Context, p types.MarketPrice) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE market_prices
		    SET current_price = $3::numeric, previous_price = $4::numeric, price_change = $5,
		        trend = $6, unit = $7, volume = $8, last_updated = $9, region = $10
		  WHERE crop_name = $1 AND market = $2`,
		p.CropName, p.Market,
		p.CurrentPrice.StringFixed(2), p.PreviousPrice.StringFixed(2), p.PriceChange,
		string(p.Trend), p.Unit, p.Volume, p.LastUpdated.UTC(), p.Region,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update market price", err).
			WithDetails(map[string]any{"crop_name": p.CropName, "market": p.Market})
	}
	return tag.RowsAffected() > 0, nil
}

// Insert adds a single row. A concurrent writer may have inserted the key in
// the meantime, in which case the unique constraint error is returned.
func (r *MarketPriceRepository) Insert(ctx context.Context, p types.MarketPrice) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO market_prices
		   (crop_name, current_price, previous_price, price_change, trend, unit, market, volume, last_updated, region)
		 VALUES ($1, $2::numeric, $3::numeric, $4, $5, $6, $7, $8, $9, $10)`,
		p.CropName, p.CurrentPrice.StringFixed(2), p.PreviousPrice.StringFixed(2), p.PriceChange,
		string(p.Trend), p.Unit, p.Market, p.Volume, p.LastUpdated.UTC(), p.Region,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert market price", err).
			WithDetails(map[string]any{"crop_name": p.CropName, "market": p.Market})
	}
	return nil
}

// PriceFilter narrows List. Zero values mean no filter.
type PriceFilter struct {
	Market string
	Limit  int
}

// List returns rows ordered by last_updated descending, the order the client
// feed shows them in.
func (r *MarketPriceRepository) List(ctx context.Context, f PriceFilter) ([]types.MarketPrice, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.Query(ctx,
		`SELECT crop_name, current_price::text, previous_price::text, price_change, trend,
		        unit, market, volume, last_updated, region
		   FROM market_prices
		  WHERE ($1 = '' OR market = $1)
		  ORDER BY last_updated DESC, crop_name ASC
		  LIMIT $2`,
		f.Market, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list market prices", err)
	}
	defer rows.Close()

	out := []types.MarketPrice{}
	for rows.Next() {
		var (
			p                 types.MarketPrice
			current, previous string
			trend             string
		)
		if err := rows.Scan(&p.CropName, &current, &previous, &p.PriceChange, &trend,
			&p.Unit, &p.Market, &p.Volume, &p.LastUpdated, &p.Region); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan market price", err)
		}
		if p.CurrentPrice, err = decimal.NewFromString(current); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "malformed current_price", err)
		}
		if p.PreviousPrice, err = decimal.NewFromString(previous); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "malformed previous_price", err)
		}
		p.Trend = types.Trend(trend)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate market prices", err)
	}
	return out, nil
}

func dedupeByKey(rows []types.MarketPrice) []types.MarketPrice {
	idx := make(map[types.MarketKey]int, len(rows))
	out := make([]types.MarketPrice, 0, len(rows))
	for _, p := range rows {
		if i, ok := idx[p.Key()]; ok {
			out[i] = p
			continue
		}
		idx[p.Key()] = len(out)
		out = append(out, p)
	}
	return out
}
