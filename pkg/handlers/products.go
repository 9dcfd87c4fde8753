package handlers

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
	"github.com/opendatacube/cubedash-engine/pkg/models"
	"github.com/opendatacube/cubedash-engine/pkg/services"
)

// ProductResponse is a product's statistics plus how its datasets are grouped into regions.
type ProductResponse struct {
	*models.ProductSummary
	RegionKind *services.RegionKind `json:"region_kind,omitempty"`
}

// ProductListResponse lists every product with stored statistics.
type ProductListResponse struct {
	Products []*models.ProductSummary `json:"products"`
}

// ProductsHandler serves product statistics.
type ProductsHandler struct {
	store  services.SummaryStore
	logger *zap.Logger
}

// NewProductsHandler creates a ProductsHandler.
func NewProductsHandler(store services.SummaryStore, logger *zap.Logger) *ProductsHandler {
	return &ProductsHandler{store: store, logger: logger}
}

// RegisterRoutes registers the product routes on the given mux.
func (h *ProductsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.List)
	mux.HandleFunc("GET /api/products/{product}", h.Get)
}

// List handles GET /api/products.
func (h *ProductsHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListProductSummaries(r.Context())
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if products == nil {
		products = []*models.ProductSummary{}
	}

	resp := ApiResponse{Success: true, Data: ProductListResponse{Products: products}}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Get handles GET /api/products/{product}.
func (h *ProductsHandler) Get(w http.ResponseWriter, r *http.Request) {
	name, ok := ParseProductName(w, r, h.logger)
	if !ok {
		return
	}

	product, err := h.store.GetProductSummary(r.Context(), name)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if product == nil {
		writeServiceError(w, fmt.Errorf("%w: %s", apperrors.ErrUnknownProduct, name), h.logger)
		return
	}

	info, err := h.store.ProductRegionInfo(r.Context(), name)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	resp := ApiResponse{Success: true, Data: ProductResponse{
		ProductSummary: product,
		RegionKind:     services.NewRegionKind(info),
	}}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
