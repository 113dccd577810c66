package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"farmconnect/internal/core"
	"farmconnect/internal/db"
	"farmconnect/internal/types"
)

// PriceLister is satisfied by *db.MarketPriceRepository.
type PriceLister interface {
	List(ctx context.Context, f db.PriceFilter) ([]types.MarketPrice, error)
}

// RunReader is satisfied by *db.ScrapeRunRepository.
type RunReader interface {
	Latest(ctx context.Context) (*db.ScrapeRun, error)
}

const (
	defaultPriceLimit = 200
	maxPriceLimit     = 500
)

// MarketPriceHandler serves the scraped price feed. Clients poll it; the
// poll interval is advertised in the response and in Cache-Control.
type MarketPriceHandler struct {
	prices       PriceLister
	runs         RunReader
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewMarketPriceHandler(prices PriceLister, runs RunReader, pollInterval time.Duration, logger *slog.Logger) *MarketPriceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &MarketPriceHandler{
		prices:       prices,
		runs:         runs,
		pollInterval: pollInterval,
		logger:       logger,
		now:          time.Now,
	}
}

// RegisterRoutes mounts the price endpoints.
func (h *MarketPriceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Get("/export.xlsx", h.HandleExport)
	r.Get("/status", h.HandleStatus)
}

// HandleList handles GET /v1/market-prices?market=<label>&limit=<n>.
func (h *MarketPriceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	f, err := h.parseFilter(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	rows, err := h.prices.List(r.Context(), f)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	secs := int(h.pollInterval / time.Second)
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(secs))
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: rows,
		Meta: map[string]any{
			"overview":              types.SummarizePrices(rows),
			"poll_interval_seconds": secs,
		},
	})
}

// HandleExport handles GET /v1/market-prices/export.xlsx. It accepts the
// same filters as HandleList.
func (h *MarketPriceHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	f, err := h.parseFilter(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	rows, err := h.prices.List(r.Context(), f)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	book, err := buildPriceWorkbook(rows, h.now())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	defer book.Close()

	name := "market-prices-" + h.now().Format(time.DateOnly) + ".xlsx"
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	if err := book.Write(w); err != nil {
		types.LoggerFromContext(r.Context(), h.logger).Error("failed to stream workbook", "error", err)
	}
}

// HandleStatus handles GET /v1/market-prices/status: the most recent
// scrape run, so clients can tell a quiet market from a broken scraper.
func (h *MarketPriceHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Latest(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: run})
}

func (h *MarketPriceHandler) parseFilter(r *http.Request) (db.PriceFilter, error) {
	q := r.URL.Query()

	market := q.Get("market")
	if market != "" && !types.IsKnownMarket(market) {
		return db.PriceFilter{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidMarket,
			"unknown market", nil,
			map[string]any{"market": market, "allowed": types.KnownMarkets})
	}

	limit, err := parseLimit(q.Get("limit"), defaultPriceLimit, maxPriceLimit)
	if err != nil {
		return db.PriceFilter{}, err
	}
	return db.PriceFilter{Market: market, Limit: limit}, nil
}
