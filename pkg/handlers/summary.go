package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/services"
)

// SummaryHandler serves period summaries and dataset footprints.
type SummaryHandler struct {
	reader        *services.SummaryReader
	maxFootprints int
	logger        *zap.Logger
}

// NewSummaryHandler creates a SummaryHandler. Footprint requests return at most maxFootprints features.
func NewSummaryHandler(reader *services.SummaryReader, maxFootprints int, logger *zap.Logger) *SummaryHandler {
	return &SummaryHandler{reader: reader, maxFootprints: maxFootprints, logger: logger}
}

// RegisterRoutes registers the summary routes on the given mux.
func (h *SummaryHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/summary/{product}"
	mux.HandleFunc("GET "+base, h.Summary)
	mux.HandleFunc("GET "+base+"/{year}", h.Summary)
	mux.HandleFunc("GET "+base+"/{year}/{month}", h.Summary)
	mux.HandleFunc("GET "+base+"/{year}/{month}/{day}", h.Summary)

	mux.HandleFunc("GET /api/footprints/{product}", h.Footprints)
	mux.HandleFunc("GET /api/last-updated", h.LastUpdated)
}

// Summary handles GET /api/summary/{product}[/{year}[/{month}[/{day}]]].
// The product "_all" combines every product.
func (h *SummaryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	product, ok := ParseProductName(w, r, h.logger)
	if !ok {
		return
	}
	period, ok := ParsePeriod(w, r, h.logger)
	if !ok {
		return
	}

	view, err := h.reader.View(r.Context(), product, period)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: view}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Footprints handles GET /api/footprints/{product}?year=&month=&day=&region=&limit=
// and returns a GeoJSON FeatureCollection.
func (h *SummaryHandler) Footprints(w http.ResponseWriter, r *http.Request) {
	product, ok := ParseProductName(w, r, h.logger)
	if !ok {
		return
	}
	if product == services.AllProducts {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_product", "Footprints need a single product"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	period, ok := ParsePeriod(w, r, h.logger)
	if !ok {
		return
	}
	limit, ok := ParseLimit(w, r, h.maxFootprints, h.logger)
	if !ok {
		return
	}

	var regionCode *string
	if code := r.URL.Query().Get("region"); code != "" {
		regionCode = &code
	}

	features, err := h.reader.Store().GetDatasetFootprints(r.Context(), product, period, regionCode, limit)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	if err := WriteJSON(w, http.StatusOK, features); err != nil {
		h.logger.Error("Failed to encode footprints", zap.Error(err))
	}
}

// LastUpdatedResponse reports when the catalog last changed, when known.
type LastUpdatedResponse struct {
	Known       bool   `json:"known"`
	LastUpdated string `json:"last_updated,omitempty"`
}

// LastUpdated handles GET /api/last-updated.
func (h *SummaryHandler) LastUpdated(w http.ResponseWriter, r *http.Request) {
	resp := LastUpdatedResponse{}
	if t, ok := h.reader.Store().GetLastUpdated(r.Context()); ok {
		resp.Known = true
		resp.LastUpdated = t.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: resp}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
