// Package handlers contains the HTTP handlers mounted under /v1.
//
// Handlers parse and validate query parameters and bodies, call a narrow
// service interface, and write the core.APIResponse envelope. They hold no
// state beyond their dependencies.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"farmconnect/internal/advisory"
	"farmconnect/internal/core"
	"farmconnect/internal/forecasts"
	"farmconnect/internal/types"
)

// AdvisoryService is the part of forecasts.Service the handler needs.
type AdvisoryService interface {
	Advisories(ctx context.Context, location string, days int) (*forecasts.Report, error)
}

const maxGeneralTips = 20

// TipView is a tip with its display color.
type TipView struct {
	types.TipRule
	Color string `json:"color"`
}

// DayView is one day of advice with the most severe tip pulled out for the
// day card header.
type DayView struct {
	Date            string         `json:"date"`
	Tips            []TipView      `json:"tips"`
	HighestSeverity types.Severity `json:"highest_severity,omitempty"`
	HighestColor    string         `json:"highest_color,omitempty"`
}

// ReportView is a forecasts.Report with advisories rendered as DayViews.
type ReportView struct {
	Location   forecasts.Place     `json:"location"`
	Forecast   []types.ForecastDay `json:"forecast"`
	Advisories []DayView           `json:"advisories"`
	FetchedAt  time.Time           `json:"fetched_at"`
	Stale      bool                `json:"stale"`
}

type generateRequest struct {
	Days []types.ForecastDay `json:"days" validate:"dive"`
}

// AdvisoryHandler serves rule-engine output.
type AdvisoryHandler struct {
	engine      *advisory.Engine
	service     AdvisoryService
	validator   *core.Validator
	defaultDays int
	generalTips int
	logger      *slog.Logger
	now         func() time.Time
}

// AdvisoryHandlerConfig carries the request defaults.
type AdvisoryHandlerConfig struct {
	DefaultDays int
	GeneralTips int
	Logger      *slog.Logger
}

func NewAdvisoryHandler(engine *advisory.Engine, svc AdvisoryService, val *core.Validator, cfg AdvisoryHandlerConfig) *AdvisoryHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = 7
	}
	if cfg.GeneralTips <= 0 {
		cfg.GeneralTips = 3
	}
	return &AdvisoryHandler{
		engine:      engine,
		service:     svc,
		validator:   val,
		defaultDays: cfg.DefaultDays,
		generalTips: cfg.GeneralTips,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// RegisterRoutes mounts the advisory endpoints.
func (h *AdvisoryHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.HandleGenerate)
	r.Get("/", h.HandleForLocation)
	r.Get("/general", h.HandleGeneral)
}

// HandleGenerate handles POST /v1/advisories. The caller supplies the
// forecast days and gets the matching tips back without any upstream call.
func (h *AdvisoryHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if n := len(req.Days); n < 1 || n > forecasts.MaxForecastDays {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationForecastDays,
			"days must contain between 1 and 14 forecast days", nil,
			map[string]any{"count": n}))
		return
	}
	if err := h.validator.ValidateStruct(req, types.ErrCodeValidationMissingField); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: renderDays(h.engine.GenerateTips(req.Days)),
	})
}

// HandleForLocation handles GET /v1/advisories?q=<location>&days=<n>.
func (h *AdvisoryHandler) HandleForLocation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	days := h.defaultDays
	if s := q.Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationForecastDays, "days must be an integer", nil))
			return
		}
		days = n
	}

	report, err := h.service.Advisories(r.Context(), q.Get("q"), days)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if report.Stale {
		w.Header().Set("Cache-Control", "no-store")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=300")
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ReportView{
		Location:   report.Location,
		Forecast:   report.Forecast,
		Advisories: renderDays(report.Advisories),
		FetchedAt:  report.FetchedAt,
		Stale:      report.Stale,
	}})
}

// HandleGeneral handles GET /v1/advisories/general?date=YYYY-MM-DD&limit=n.
// date defaults to today.
func (h *AdvisoryHandler) HandleGeneral(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	date := q.Get("date")
	if date == "" {
		date = h.now().Format(time.DateOnly)
	} else if _, err := time.Parse(time.DateOnly, date); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidDate, "date must be YYYY-MM-DD", nil))
		return
	}

	limit, err := parseLimit(q.Get("limit"), h.generalTips, maxGeneralTips)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	tips := h.engine.GeneralTips(date, limit)
	views := make([]TipView, 0, len(tips))
	for _, t := range tips {
		views = append(views, TipView{TipRule: t, Color: advisory.SeverityColor(t.Severity)})
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: views,
		Meta: map[string]any{"date": date},
	})
}

func renderDays(days []types.DayAdvisory) []DayView {
	out := make([]DayView, 0, len(days))
	for _, d := range days {
		v := DayView{Date: d.Date, Tips: make([]TipView, 0, len(d.Tips))}
		for _, t := range d.Tips {
			v.Tips = append(v.Tips, TipView{TipRule: t, Color: advisory.SeverityColor(t.Severity)})
		}
		if hi := advisory.Highest(d.Tips); hi != "" {
			v.HighestSeverity = hi
			v.HighestColor = advisory.SeverityColor(hi)
		}
		out = append(out, v)
	}
	return out
}

// parseLimit reads an optional positive limit capped at upper.
func parseLimit(s string, def, upper int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > upper {
		return 0, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidLimit,
			"limit must be an integer between 1 and "+strconv.Itoa(upper), nil,
			map[string]any{"limit": s})
	}
	return n, nil
}
