package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationForecastDays, http.StatusBadRequest},
		{ErrCodeNotFoundForecast, http.StatusNotFound},
		{ErrCodeUpstreamMarket, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, NewAppError(tt.code, "x", nil).HTTPStatus())
		})
	}
}

func TestAppError_ErrorsAs(t *testing.T) {
	underlying := errors.New("connection refused")
	wrapped := fmt.Errorf("cycle failed: %w", NewAppError(ErrCodeUpstreamMarket, "fetch failed", underlying))

	var appErr *AppError
	require.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, ErrCodeUpstreamMarket, appErr.Code)
	assert.ErrorIs(t, wrapped, underlying)
	assert.Equal(t, "upstream_market_unavailable: fetch failed", appErr.Error())
}

func TestAppError_WithDetailsDoesNotMutate(t *testing.T) {
	orig := NewAppErrorWithDetails(ErrCodeValidationInvalidMarket, "bad", nil, map[string]any{"a": 1})
	next := orig.WithDetails(map[string]any{"b": 2})

	assert.Len(t, orig.Details, 1)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, next.Details)
}

func TestSecretString_Redacts(t *testing.T) {
	s := SecretString("postgres://user:pw@host/db")

	assert.Equal(t, redactedPlaceholder, s.String())
	assert.Equal(t, redactedPlaceholder, fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "pw@")

	b, err := json.Marshal(struct{ URL SecretString }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "pw@")
	assert.Equal(t, "postgres://user:pw@host/db", s.Unmask())
}

func TestTrendFromChange(t *testing.T) {
	assert.Equal(t, TrendUp, TrendFromChange(1.2))
	assert.Equal(t, TrendDown, TrendFromChange(-2.5))
	assert.Equal(t, TrendStable, TrendFromChange(0))
}

func TestSummarizePrices(t *testing.T) {
	rows := []MarketPrice{
		{CropName: "Maize", PriceChange: 2},
		{CropName: "Wheat", PriceChange: -4},
		{CropName: "Soya", PriceChange: 0},
		{CropName: "Apples", PriceChange: 6},
	}
	o := SummarizePrices(rows)
	assert.Equal(t, 4, o.ActiveMarkets)
	assert.Equal(t, 2, o.Rising)
	assert.Equal(t, 1, o.Falling)
	assert.Equal(t, 1, o.Stable)
	assert.InDelta(t, 1.0, o.AvgChange, 1e-9)

	assert.Equal(t, MarketOverview{}, SummarizePrices(nil))
}

func TestConditionAndSeverityValidation(t *testing.T) {
	assert.True(t, ConditionStorm.Valid())
	assert.False(t, TipCondition("hail").Valid())
	assert.True(t, SeverityHigh.Valid())
	assert.False(t, Severity("extreme").Valid())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
}

func TestForecastDay_UnmarshalMissingAndMalformed(t *testing.T) {
	var d ForecastDay
	require.NoError(t, json.Unmarshal([]byte(
		`{"date":"2025-01-01","high":25,"low":null,"precipitation":"abc","humidity":" 55 ","condition":"sunny"}`), &d))

	assert.Equal(t, "2025-01-01", d.Date)
	assert.Equal(t, 25.0, d.High)
	assert.True(t, math.IsNaN(d.Low), "null low")
	assert.True(t, math.IsNaN(d.Precipitation), "malformed precipitation")
	assert.Equal(t, 55.0, d.Humidity)
	assert.True(t, math.IsNaN(d.WindSpeed), "absent wind")
	assert.Equal(t, 0.0, d.UVIndex, "absent uv defaults to 0")
	assert.Equal(t, "sunny", d.Condition)
}

func TestForecastDay_MarshalUnknownAsNull(t *testing.T) {
	d := ForecastDay{Date: "2025-01-01", High: 30, Low: math.NaN(), Precipitation: math.NaN(),
		Humidity: math.NaN(), WindSpeed: math.NaN(), UVIndex: 4}

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"date":"2025-01-01","high":30,"low":null,"precipitation":null,"humidity":null,"windSpeed":null,"uvIndex":4}`,
		string(b))

	var back ForecastDay
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, math.IsNaN(back.Low))
	assert.Equal(t, 30.0, back.High)
}

func TestFloatOrNaN(t *testing.T) {
	v := 3.5
	assert.Equal(t, 3.5, FloatOrNaN(&v))
	assert.True(t, math.IsNaN(FloatOrNaN(nil)))
}
