// Package advisory turns multi-day weather forecasts into per-day farming tips.
//
// The engine is a pure function over its inputs and an immutable Library: it
// performs no I/O, keeps no state between calls and is safe for concurrent use.
//
// Matching is cumulative. Every rule whose threshold is satisfied is reported,
// in library order, so a day with 80% chance of rain carries every rung of the
// rain ladder from 5 up to 80. Rain and storm rules read the same
// precipitation signal and form two independent ladders.
package advisory

import (
	"time"

	"farmconnect/internal/types"
)

// Engine evaluates forecast days against a tip library.
type Engine struct {
	lib *Library
}

// NewEngine creates an Engine over lib. A nil lib uses the embedded default.
func NewEngine(lib *Library) *Engine {
	if lib == nil {
		lib = DefaultLibrary()
	}
	return &Engine{lib: lib}
}

// Library returns the library the engine evaluates.
func (e *Engine) Library() *Library {
	return e.lib
}

// GenerateTips returns one DayAdvisory per input day, in input order. A day
// that matches no rule yields an empty, non-nil tip list.
func (e *Engine) GenerateTips(days []types.ForecastDay) []types.DayAdvisory {
	out := make([]types.DayAdvisory, len(days))
	for i, day := range days {
		out[i] = types.DayAdvisory{
			Date: day.Date,
			Tips: e.tipsForDay(day),
		}
	}
	return out
}

func (e *Engine) tipsForDay(day types.ForecastDay) []types.TipRule {
	tips := []types.TipRule{}
	for _, rule := range e.lib.rules {
		if Matches(rule, day) {
			tips = append(tips, rule)
		}
	}
	return tips
}

// Matches reports whether a single rule applies to a day. NaN fields never
// match because every comparison against NaN is false.
func Matches(rule types.TipRule, day types.ForecastDay) bool {
	switch rule.Condition {
	case types.ConditionRain, types.ConditionStorm:
		return day.Precipitation >= rule.Threshold
	case types.ConditionHot:
		return day.High >= rule.Threshold
	case types.ConditionCold:
		// Lower is worse.
		return day.Low <= rule.Threshold
	case types.ConditionWind:
		return day.WindSpeed >= rule.Threshold
	case types.ConditionUV:
		return day.UVIndex >= rule.Threshold
	case types.ConditionHumidity:
		return day.Humidity >= rule.Threshold
	default:
		return false
	}
}

// GeneralTips picks n weather-independent farm-care tips for date. The
// selection rotates through the library by day of year so consecutive days
// see different tips; an unparseable date starts at the first tip.
func (e *Engine) GeneralTips(date string, n int) []types.TipRule {
	general := e.lib.ByCondition(types.ConditionGeneral)
	if n <= 0 || len(general) == 0 {
		return []types.TipRule{}
	}
	if n > len(general) {
		n = len(general)
	}

	offset := 0
	if t, err := time.Parse(time.DateOnly, date); err == nil {
		offset = (t.YearDay() * n) % len(general)
	}

	out := make([]types.TipRule, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, general[(offset+i)%len(general)])
	}
	return out
}

// Highest returns the most severe severity among tips, or "" when tips is empty.
func Highest(tips []types.TipRule) types.Severity {
	var best types.Severity
	for _, t := range tips {
		if t.Severity.Rank() > best.Rank() {
			best = t.Severity
		}
	}
	return best
}

// Display colors per severity.
const (
	ColorLow    = "#10B981"
	ColorMedium = "#FBBF24"
	ColorHigh   = "#EF4444"
)

// SeverityColor maps a severity to its display color. Unknown severities get
// the low color.
func SeverityColor(s types.Severity) string {
	switch s {
	case types.SeverityHigh:
		return ColorHigh
	case types.SeverityMedium:
		return ColorMedium
	default:
		return ColorLow
	}
}

var defaultEngine = NewEngine(nil)

// GenerateTips evaluates days against the embedded default library.
func GenerateTips(days []types.ForecastDay) []types.DayAdvisory {
	return defaultEngine.GenerateTips(days)
}
