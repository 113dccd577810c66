package forecasts

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmconnect/internal/advisory"
	"farmconnect/internal/config"
	"farmconnect/internal/external"
	"farmconnect/internal/types"
)

func forecastFixture(t *testing.T) []byte {
	t.Helper()
	b, err := os.ReadFile("testdata/forecast.json")
	require.NoError(t, err)
	return b
}

func newTestClient(t *testing.T, h http.HandlerFunc) *WeatherClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	bc := external.NewBaseClient(srv.Client(), "weather-test", external.NoRetryPolicy(), "",
		external.WithUpstreamCode(types.ErrCodeUpstreamForecast))
	return newWeatherClientWithFetcher(bc, srv.URL+"/v1/", "test-key", nil)
}

func TestWeatherClient_Forecast(t *testing.T) {
	payload := forecastFixture(t)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast.json", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "Polokwane", r.URL.Query().Get("q"))
		assert.Equal(t, "2", r.URL.Query().Get("days"))
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	})

	got, err := c.Forecast(context.Background(), "Polokwane", 2)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(got))
}

func TestWeatherClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode types.ErrorCode
	}{
		{"unknown location", http.StatusBadRequest, `{"error":{"code":1006,"message":"No matching location found."}}`, types.ErrCodeValidationInvalidLocation},
		{"bad key", http.StatusUnauthorized, `{"error":{"code":2006,"message":"API key is invalid."}}`, types.ErrCodeUpstreamForecast},
		{"other 400", http.StatusBadRequest, `{"error":{"code":9999,"message":"Internal application error."}}`, types.ErrCodeUpstreamForecast},
		{"server error", http.StatusBadGateway, `oops`, types.ErrCodeUpstreamForecast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.Forecast(context.Background(), "Nowhere", 3)
			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}

func TestWeatherClient_SearchLocations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search.json", r.URL.Path)
		assert.Equal(t, "polo", r.URL.Query().Get("q"))
		w.Write([]byte(`[{"id":1,"name":"Polokwane","region":"Limpopo","country":"South Africa","lat":-23.9,"lon":29.45}]`))
	})

	locs, err := c.SearchLocations(context.Background(), "polo")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "Polokwane", locs[0].Name)
	assert.Equal(t, "Limpopo", locs[0].Region)
}

func TestWeatherClient_SearchLocations_Empty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	})
	locs, err := c.SearchLocations(context.Background(), "zzzz")
	require.NoError(t, err)
	assert.NotNil(t, locs)
	assert.Empty(t, locs)
}

func TestParseForecast(t *testing.T) {
	place, days, err := ParseForecast(forecastFixture(t))
	require.NoError(t, err)

	assert.Equal(t, "Polokwane", place.Name)
	assert.Equal(t, "Africa/Johannesburg", place.Timezone)
	require.Len(t, days, 2)
	assert.Equal(t, types.ForecastDay{
		Date:          "2025-03-14",
		High:          36.2,
		Low:           19.1,
		Precipitation: 10,
		Humidity:      40,
		WindSpeed:     12.6,
		UVIndex:       11,
		Condition:     "sunny",
	}, days[0])
	assert.Equal(t, 92.0, days[1].Precipitation)
}

func TestParseForecast_MissingDayFields(t *testing.T) {
	payload := []byte(`{"location":{"name":"Polokwane"},"forecast":{"forecastday":[` +
		`{"date":"2025-01-01","day":{"maxtemp_c":25,"condition":{"text":"Sunny"}}}]}}`)

	_, days, err := ParseForecast(payload)
	require.NoError(t, err)
	require.Len(t, days, 1)

	d := days[0]
	assert.Equal(t, 25.0, d.High)
	assert.True(t, math.IsNaN(d.Low), "low")
	assert.True(t, math.IsNaN(d.Precipitation), "precipitation")
	assert.True(t, math.IsNaN(d.Humidity), "humidity")
	assert.True(t, math.IsNaN(d.WindSpeed), "wind")
	assert.Equal(t, 0.0, d.UVIndex)

	got := advisory.NewEngine(nil).GenerateTips(days)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Tips)
}

func TestParseForecast_Invalid(t *testing.T) {
	_, _, err := ParseForecast([]byte(`{not json`))
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalParse, appErr.Code)
}

func TestNewWeatherClient_FromConfig(t *testing.T) {
	c := NewWeatherClient(config.WeatherConfig{
		BaseURL:           "https://api.weatherapi.com/v1/",
		APIKey:            "k",
		RequestsPerSecond: 0.5,
	}, nil)
	assert.Equal(t, "https://api.weatherapi.com/v1", c.baseURL)
	assert.NotNil(t, c.http)
}
