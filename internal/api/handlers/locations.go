package handlers

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"farmconnect/internal/core"
	"farmconnect/internal/forecasts"
	"farmconnect/internal/types"
)

// LocationSearcher is satisfied by *forecasts.WeatherClient.
type LocationSearcher interface {
	SearchLocations(ctx context.Context, query string) ([]forecasts.Location, error)
}

// LocationHandler serves location autocomplete for the advisory screen.
type LocationHandler struct {
	search LocationSearcher
}

func NewLocationHandler(s LocationSearcher) *LocationHandler {
	return &LocationHandler{search: s}
}

func (h *LocationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleSearch)
}

// HandleSearch handles GET /v1/locations?q=<prefix>. Queries shorter than
// two characters are rejected.
func (h *LocationHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if utf8.RuneCountInString(query) < 2 {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidLocation,
			"q must be at least 2 characters", nil))
		return
	}

	locs, err := h.search.SearchLocations(r.Context(), query)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: locs})
}
