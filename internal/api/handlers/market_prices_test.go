package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"farmconnect/internal/db"
	"farmconnect/internal/types"
)

// --- Mock Repositories ---

type mockPriceLister struct {
	rows []types.MarketPrice
	err  error

	gotFilter db.PriceFilter
	calls     int
}

func (m *mockPriceLister) List(_ context.Context, f db.PriceFilter) ([]types.MarketPrice, error) {
	m.calls++
	m.gotFilter = f
	return m.rows, m.err
}

type mockRunReader struct {
	run *db.ScrapeRun
	err error
}

func (m *mockRunReader) Latest(context.Context) (*db.ScrapeRun, error) {
	return m.run, m.err
}

// --- Helpers ---

func samplePrices() []types.MarketPrice {
	updated := time.Date(2025, 3, 13, 22, 0, 0, 0, time.UTC)
	return []types.MarketPrice{
		{
			CropName: "Yellow Maize", CurrentPrice: decimal.RequireFromString("3755"),
			PreviousPrice: decimal.RequireFromString("3700"), PriceChange: 1.49, Trend: types.TrendUp,
			Unit: "per ton", Market: types.MarketGrains, LastUpdated: updated, Region: "South Africa",
		},
		{
			CropName: "Apples", CurrentPrice: decimal.RequireFromString("12.5"),
			PreviousPrice: decimal.RequireFromString("13"), PriceChange: -3.85, Trend: types.TrendDown,
			Unit: "per kg", Market: types.MarketFruits, LastUpdated: updated, Region: "South Africa",
		},
		{
			CropName: "Potatoes", CurrentPrice: decimal.RequireFromString("8"),
			PreviousPrice: decimal.RequireFromString("8"), Trend: types.TrendStable,
			Unit: "per kg", Market: types.MarketVegetables, LastUpdated: updated, Region: "South Africa",
		},
	}
}

func newTestMarketRouter(prices PriceLister, runs RunReader) http.Handler {
	h := NewMarketPriceHandler(prices, runs, 30*time.Second, nil)
	h.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/v1/market-prices", h.RegisterRoutes)
	return r
}

// --- HandleList ---

func TestHandleList_Success(t *testing.T) {
	prices := &mockPriceLister{rows: samplePrices()}
	router := newTestMarketRouter(prices, &mockRunReader{})

	rec := serve(router, http.MethodGet, "/v1/market-prices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=30" {
		t.Errorf("unexpected Cache-Control %q", cc)
	}
	if prices.gotFilter != (db.PriceFilter{Limit: defaultPriceLimit}) {
		t.Errorf("unexpected filter %+v", prices.gotFilter)
	}

	env := decodeData[[]types.MarketPrice](t, rec)
	if len(env.Data) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(env.Data))
	}
	if !env.Data[0].CurrentPrice.Equal(decimal.RequireFromString("3755")) {
		t.Errorf("unexpected price %s", env.Data[0].CurrentPrice)
	}

	overview, ok := env.Meta["overview"].(map[string]any)
	if !ok {
		t.Fatalf("expected overview in meta, got %v", env.Meta)
	}
	if overview["active_markets"] != float64(3) || overview["rising"] != float64(1) ||
		overview["falling"] != float64(1) || overview["stable"] != float64(1) {
		t.Errorf("unexpected overview %v", overview)
	}
	if env.Meta["poll_interval_seconds"] != float64(30) {
		t.Errorf("unexpected poll interval %v", env.Meta["poll_interval_seconds"])
	}
}

func TestHandleList_Filters(t *testing.T) {
	prices := &mockPriceLister{rows: []types.MarketPrice{}}
	router := newTestMarketRouter(prices, &mockRunReader{})

	rec := serve(router, http.MethodGet, "/v1/market-prices?market=Fruits+Market&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := db.PriceFilter{Market: types.MarketFruits, Limit: 10}
	if prices.gotFilter != want {
		t.Errorf("expected %+v, got %+v", want, prices.gotFilter)
	}
	if env := decodeData[[]types.MarketPrice](t, rec); env.Data == nil {
		t.Error("expected empty array, not null")
	}
}

func TestHandleList_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		listErr    error
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"unknown market", "/v1/market-prices?market=Fish", nil, http.StatusBadRequest, types.ErrCodeValidationInvalidMarket},
		{"limit too large", "/v1/market-prices?limit=501", nil, http.StatusBadRequest, types.ErrCodeValidationInvalidLimit},
		{"db failure", "/v1/market-prices", types.NewAppError(types.ErrCodeInternalDB, "boom", errors.New("conn reset")), http.StatusInternalServerError, types.ErrCodeInternalDB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prices := &mockPriceLister{err: tt.listErr}
			router := newTestMarketRouter(prices, &mockRunReader{})
			rec := serve(router, http.MethodGet, tt.target, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if code := decodeErrorCode(t, rec); code != string(tt.wantCode) {
				t.Errorf("expected %s, got %s", tt.wantCode, code)
			}
			if tt.listErr == nil && prices.calls != 0 {
				t.Error("expected repository not to be called on invalid input")
			}
		})
	}
}

// --- HandleExport ---

func TestHandleExport(t *testing.T) {
	router := newTestMarketRouter(&mockPriceLister{rows: samplePrices()}, &mockRunReader{})

	rec := serve(router, http.MethodGet, "/v1/market-prices/export.xlsx", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("unexpected Content-Type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="market-prices-2025-03-14.xlsx"` {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("response is not a workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(priceSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "Crop" || rows[0][2] != "Current Price (R)" {
		t.Errorf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "Yellow Maize" || rows[1][1] != types.MarketGrains || rows[1][2] != "3755" {
		t.Errorf("unexpected first row %v", rows[1])
	}
	if rows[2][5] != "down" {
		t.Errorf("expected trend column, got %v", rows[2])
	}
}

func TestHandleExport_InvalidFilter(t *testing.T) {
	router := newTestMarketRouter(&mockPriceLister{}, &mockRunReader{})
	rec := serve(router, http.MethodGet, "/v1/market-prices/export.xlsx?market=Fish", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// --- HandleStatus ---

func TestHandleStatus(t *testing.T) {
	finished := time.Date(2025, 3, 14, 8, 0, 5, 0, time.UTC)
	run := &db.ScrapeRun{
		ID: 7, CycleID: "c-1", StartedAt: finished.Add(-5 * time.Second), FinishedAt: &finished,
		Status: types.ScrapeResultSuccess, Found: 4, Inserted: 4,
	}
	router := newTestMarketRouter(&mockPriceLister{}, &mockRunReader{run: run})

	rec := serve(router, http.MethodGet, "/v1/market-prices/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	env := decodeData[db.ScrapeRun](t, rec)
	if env.Data.CycleID != "c-1" || env.Data.Inserted != 4 || env.Data.Status != types.ScrapeResultSuccess {
		t.Errorf("unexpected run %+v", env.Data)
	}
}

func TestHandleStatus_NoRuns(t *testing.T) {
	router := newTestMarketRouter(&mockPriceLister{}, &mockRunReader{
		err: types.NewAppError(types.ErrCodeNotFoundPrice, "no scrape has run yet", nil),
	})
	rec := serve(router, http.MethodGet, "/v1/market-prices/status", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
