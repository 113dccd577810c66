// Package forecasts fetches daily forecasts from weatherapi.com, caches the
// raw payloads and turns them into advisories.
package forecasts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"farmconnect/internal/config"
	"farmconnect/internal/external"
	"farmconnect/internal/types"
)

// MaxForecastDays is the longest forecast weatherapi.com serves.
const MaxForecastDays = 14

// Fetcher is the HTTP surface the client needs. *external.BaseClient
// satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url, accept string) (*external.Response, error)
}

// WeatherClient calls the weatherapi.com forecast and search endpoints.
type WeatherClient struct {
	http    Fetcher
	baseURL string
	apiKey  types.SecretString
	logger  *slog.Logger
}

// NewWeatherClient builds a client with a rate-limited, circuit-broken
// transport from cfg.
func NewWeatherClient(cfg config.WeatherConfig, logger *slog.Logger) *WeatherClient {
	burst := max(1, int(cfg.RequestsPerSecond))
	bc := external.NewBaseClient(
		external.NewHTTPClient(cfg.Timeout),
		"weatherapi",
		external.DefaultRetryPolicy(),
		"",
		external.WithLimiter(rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)),
		external.WithUpstreamCode(types.ErrCodeUpstreamForecast),
	)
	return newWeatherClientWithFetcher(bc, cfg.BaseURL, cfg.APIKey, logger)
}

func newWeatherClientWithFetcher(f Fetcher, baseURL string, apiKey types.SecretString, logger *slog.Logger) *WeatherClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WeatherClient{
		http:    f,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

// apiError is the error envelope weatherapi.com returns with 4xx statuses.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// weatherapi.com error codes that mean the caller sent a bad location.
const (
	apiCodeNoLocation    = 1006
	apiCodeMissingQuery  = 1003
	apiCodeInvalidAPIURL = 1005
)

// Forecast returns the raw forecast.json payload for location.
func (c *WeatherClient) Forecast(ctx context.Context, location string, days int) ([]byte, error) {
	q := url.Values{}
	q.Set("key", c.apiKey.Unmask())
	q.Set("q", location)
	q.Set("days", strconv.Itoa(days))
	q.Set("aqi", "no")
	q.Set("alerts", "no")
	return c.get(ctx, "/forecast.json", q, location)
}

// Location is one weatherapi.com search result.
type Location struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Region  string  `json:"region"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// SearchLocations returns places matching query, for location autocomplete.
func (c *WeatherClient) SearchLocations(ctx context.Context, query string) ([]Location, error) {
	q := url.Values{}
	q.Set("key", c.apiKey.Unmask())
	q.Set("q", query)

	body, err := c.get(ctx, "/search.json", q, query)
	if err != nil {
		return nil, err
	}
	locs := []Location{}
	if err := json.Unmarshal(body, &locs); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalParse, "failed to decode location search", err)
	}
	return locs, nil
}

func (c *WeatherClient) get(ctx context.Context, path string, q url.Values, location string) ([]byte, error) {
	resp, err := c.http.Get(ctx, c.baseURL+path+"?"+q.Encode(), "application/json")
	if err != nil {
		return nil, err
	}
	if resp.OK() {
		return resp.Body, nil
	}

	var ae apiError
	_ = json.Unmarshal(resp.Body, &ae)

	if resp.StatusCode == http.StatusBadRequest {
		switch ae.Error.Code {
		case apiCodeNoLocation, apiCodeMissingQuery, apiCodeInvalidAPIURL:
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidLocation,
				"no matching location found", nil, map[string]any{"location": location})
		}
	}

	c.logger.WarnContext(ctx, "weather api rejected request",
		"path", path,
		"status", resp.StatusCode,
		"api_code", ae.Error.Code,
		"api_message", ae.Error.Message,
	)
	return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamForecast,
		fmt.Sprintf("weather api returned %d", resp.StatusCode), nil,
		map[string]any{"status": resp.StatusCode})
}

// forecastPayload is the subset of forecast.json the service reads.
type forecastPayload struct {
	Location struct {
		Name      string  `json:"name"`
		Region    string  `json:"region"`
		Country   string  `json:"country"`
		Lat       float64 `json:"lat"`
		Lon       float64 `json:"lon"`
		TzID      string  `json:"tz_id"`
		Localtime string  `json:"localtime"`
	} `json:"location"`
	Forecast struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Day  struct {
				MaxTempC          *float64 `json:"maxtemp_c"`
				MinTempC          *float64 `json:"mintemp_c"`
				DailyChanceOfRain *float64 `json:"daily_chance_of_rain"`
				AvgHumidity       *float64 `json:"avghumidity"`
				MaxWindKph        *float64 `json:"maxwind_kph"`
				UV                float64  `json:"uv"`
				Condition         struct {
					Text string `json:"text"`
				} `json:"condition"`
			} `json:"day"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

// Place describes where a forecast is for.
type Place struct {
	Name     string  `json:"name"`
	Region   string  `json:"region"`
	Country  string  `json:"country"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Timezone string  `json:"timezone"`
}

// ParseForecast maps a forecast.json payload to engine input, one
// ForecastDay per forecastday entry in order. Absent day fields are NaN; an
// absent uv is 0.
func ParseForecast(payload []byte) (Place, []types.ForecastDay, error) {
	var p forecastPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Place{}, nil, types.NewAppError(types.ErrCodeInternalParse, "failed to decode forecast payload", err)
	}

	place := Place{
		Name:     p.Location.Name,
		Region:   p.Location.Region,
		Country:  p.Location.Country,
		Lat:      p.Location.Lat,
		Lon:      p.Location.Lon,
		Timezone: p.Location.TzID,
	}

	days := make([]types.ForecastDay, 0, len(p.Forecast.ForecastDay))
	for _, fd := range p.Forecast.ForecastDay {
		days = append(days, types.ForecastDay{
			Date:          fd.Date,
			High:          types.FloatOrNaN(fd.Day.MaxTempC),
			Low:           types.FloatOrNaN(fd.Day.MinTempC),
			Precipitation: types.FloatOrNaN(fd.Day.DailyChanceOfRain),
			Humidity:      types.FloatOrNaN(fd.Day.AvgHumidity),
			WindSpeed:     types.FloatOrNaN(fd.Day.MaxWindKph),
			UVIndex:       fd.Day.UV,
			Condition:     strings.ToLower(fd.Day.Condition.Text),
		})
	}
	return place, days, nil
}
