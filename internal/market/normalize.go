package market

import (
	"strings"
	"time"

	"farmconnect/internal/types"
)

// Normalizer turns RawRows into store rows.
type Normalizer struct {
	Region   string
	Location *time.Location
}

// Normalize converts one row. It returns false only when the crop name is
// empty after trimming; every numeric field has a fallback.
//
// An unparseable current price becomes 0, a missing or zero previous price
// takes the current price, an unparseable change is 0 and an unparseable
// date is replaced by now. Prices keep the precision parsed from the page;
// the store writes them at the column's two-decimal scale.
func (n Normalizer) Normalize(raw RawRow, now time.Time) (types.MarketPrice, bool) {
	crop := strings.TrimSpace(raw.CropName)
	if crop == "" {
		return types.MarketPrice{}, false
	}

	current, _ := ParsePrice(raw.CurrentPrice)
	previous, ok := ParsePrice(raw.PreviousPrice)
	if !ok || previous.IsZero() {
		previous = current
	}
	change := ParsePercentage(raw.Change)

	updated, ok := ParseDate(raw.Date, n.Location)
	if !ok {
		updated = now
	}

	unit := strings.TrimSpace(raw.Unit)
	if unit == "" {
		unit = types.DefaultUnit
	}

	return types.MarketPrice{
		CropName:      crop,
		CurrentPrice:  current,
		PreviousPrice: previous,
		PriceChange:   change,
		Trend:         types.TrendFromChange(change),
		Unit:          unit,
		Market:        raw.Market,
		Volume:        "",
		LastUpdated:   updated.UTC(),
		Region:        n.Region,
	}, true
}

// NormalizeAll converts rows in order and returns how many were dropped.
func (n Normalizer) NormalizeAll(rows []RawRow, now time.Time) ([]types.MarketPrice, int) {
	out := make([]types.MarketPrice, 0, len(rows))
	dropped := 0
	for _, r := range rows {
		p, ok := n.Normalize(r, now)
		if !ok {
			dropped++
			continue
		}
		out = append(out, p)
	}
	return out, dropped
}
