package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trend is the direction of a price movement derived from PriceChange.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// TrendFromChange derives the trend from the sign of a percentage change.
func TrendFromChange(change float64) Trend {
	switch {
	case change > 0:
		return TrendUp
	case change < 0:
		return TrendDown
	default:
		return TrendStable
	}
}

// Market labels, one per scraped produce section.
const (
	MarketGrains     = "Grains Market"
	MarketFruits     = "Fruits Market"
	MarketVegetables = "Vegetables Market"
)

// KnownMarkets lists the market labels in section order.
var KnownMarkets = []string{MarketGrains, MarketFruits, MarketVegetables}

// IsKnownMarket reports whether label is one of the scraped market labels.
func IsKnownMarket(label string) bool {
	for _, m := range KnownMarkets {
		if m == label {
			return true
		}
	}
	return false
}

// DefaultUnit is used when the source row leaves the quantity column blank.
const DefaultUnit = "per kg"

// MarketPrice is one normalized row of the price feed. The natural key is
// (CropName, Market).
type MarketPrice struct {
	CropName      string          `json:"crop_name"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	PreviousPrice decimal.Decimal `json:"previous_price"`
	PriceChange   float64         `json:"price_change"`
	Trend         Trend           `json:"trend"`
	Unit          string          `json:"unit"`
	Market        string          `json:"market"`
	Volume        string          `json:"volume"`
	LastUpdated   time.Time       `json:"last_updated"`
	Region        string          `json:"region"`
}

// Key returns the natural key of the row.
func (p MarketPrice) Key() MarketKey {
	return MarketKey{CropName: p.CropName, Market: p.Market}
}

// MarketKey is the (crop_name, market) natural key.
type MarketKey struct {
	CropName string
	Market   string
}

// MarketOverview summarizes a price feed the way the client's overview card does.
type MarketOverview struct {
	ActiveMarkets int     `json:"active_markets"`
	AvgChange     float64 `json:"avg_change"`
	Rising        int     `json:"rising"`
	Falling       int     `json:"falling"`
	Stable        int     `json:"stable"`
}

// SummarizePrices computes the overview for a set of rows.
func SummarizePrices(rows []MarketPrice) MarketOverview {
	o := MarketOverview{ActiveMarkets: len(rows)}
	if len(rows) == 0 {
		return o
	}
	var sum float64
	for _, r := range rows {
		sum += r.PriceChange
		switch {
		case r.PriceChange > 0:
			o.Rising++
		case r.PriceChange < 0:
			o.Falling++
		default:
			o.Stable++
		}
	}
	o.AvgChange = sum / float64(len(rows))
	return o
}
