package types

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// TipCondition tags which forecast signal a tip rule is evaluated against.
type TipCondition string

const (
	ConditionRain     TipCondition = "rain"
	ConditionStorm    TipCondition = "storm"
	ConditionHot      TipCondition = "hot"
	ConditionCold     TipCondition = "cold"
	ConditionWind     TipCondition = "wind"
	ConditionUV       TipCondition = "uv"
	ConditionHumidity TipCondition = "humidity"
	// ConditionGeneral marks farm-care tips that are not tied to the weather.
	// The rule engine never matches them.
	ConditionGeneral TipCondition = "general"
)

// Valid reports whether c is one of the known condition tags.
func (c TipCondition) Valid() bool {
	switch c {
	case ConditionRain, ConditionStorm, ConditionHot, ConditionCold,
		ConditionWind, ConditionUV, ConditionHumidity, ConditionGeneral:
		return true
	}
	return false
}

// Severity drives display ordering and coloring of a tip. It has no effect on
// matching.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// Rank orders severities for comparisons: low < medium < high. Unknown values
// rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// TipRule is one entry of the static advisory library.
type TipRule struct {
	Condition TipCondition `json:"condition" yaml:"condition"`
	Threshold float64      `json:"threshold" yaml:"threshold"`
	Tip       string       `json:"tip" yaml:"tip"`
	Severity  Severity     `json:"severity" yaml:"severity"`
	Emoji     string       `json:"emoji" yaml:"emoji"`
}

// ForecastDay is the per-day weather summary the rule engine consumes.
// Units: temperatures in °C, precipitation as chance of rain in %, humidity in
// %, wind speed in km/h.
//
// A NaN field is unknown and matches no rule. JSON decoding maps absent, null
// and non-numeric values to NaN, except uvIndex which defaults to 0.
type ForecastDay struct {
	Date          string  `json:"date" validate:"required"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Precipitation float64 `json:"precipitation"`
	Humidity      float64 `json:"humidity"`
	WindSpeed     float64 `json:"windSpeed"`
	UVIndex       float64 `json:"uvIndex"`
	Condition     string  `json:"condition,omitempty"`
}

// DayAdvisory is the engine output for a single forecast day.
type DayAdvisory struct {
	Date string    `json:"date"`
	Tips []TipRule `json:"tips"`
}

type forecastDayWire struct {
	Date          string          `json:"date"`
	High          json.RawMessage `json:"high"`
	Low           json.RawMessage `json:"low"`
	Precipitation json.RawMessage `json:"precipitation"`
	Humidity      json.RawMessage `json:"humidity"`
	WindSpeed     json.RawMessage `json:"windSpeed"`
	UVIndex       json.RawMessage `json:"uvIndex"`
	Condition     string          `json:"condition,omitempty"`
}

// UnmarshalJSON decodes a day, recording missing or malformed numbers as NaN.
func (d *ForecastDay) UnmarshalJSON(b []byte) error {
	var w forecastDayWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	uv := lenientFloat(w.UVIndex)
	if math.IsNaN(uv) {
		uv = 0
	}
	*d = ForecastDay{
		Date:          w.Date,
		High:          lenientFloat(w.High),
		Low:           lenientFloat(w.Low),
		Precipitation: lenientFloat(w.Precipitation),
		Humidity:      lenientFloat(w.Humidity),
		WindSpeed:     lenientFloat(w.WindSpeed),
		UVIndex:       uv,
		Condition:     w.Condition,
	}
	return nil
}

// MarshalJSON writes unknown (NaN or infinite) fields as null.
func (d ForecastDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date          string   `json:"date"`
		High          *float64 `json:"high"`
		Low           *float64 `json:"low"`
		Precipitation *float64 `json:"precipitation"`
		Humidity      *float64 `json:"humidity"`
		WindSpeed     *float64 `json:"windSpeed"`
		UVIndex       *float64 `json:"uvIndex"`
		Condition     string   `json:"condition,omitempty"`
	}{
		Date:          d.Date,
		High:          finiteOrNil(d.High),
		Low:           finiteOrNil(d.Low),
		Precipitation: finiteOrNil(d.Precipitation),
		Humidity:      finiteOrNil(d.Humidity),
		WindSpeed:     finiteOrNil(d.WindSpeed),
		UVIndex:       finiteOrNil(d.UVIndex),
		Condition:     d.Condition,
	})
}

// FloatOrNaN dereferences p, returning NaN when it is nil.
func FloatOrNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// lenientFloat reads a JSON number or numeric string. Anything else is NaN.
func lenientFloat(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return math.NaN()
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsInf(f, 0) {
		return math.NaN()
	}
	return f
}

func finiteOrNil(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
