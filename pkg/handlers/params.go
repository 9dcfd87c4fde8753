package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/models"
	"github.com/opendatacube/cubedash-engine/pkg/services"
)

// AllProductsName is the path name selecting the summary of every product combined.
const AllProductsName = "_all"

// ParseProductName extracts the product name from the request path.
// Expects path parameter: product
func ParseProductName(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	name := r.PathValue("product")
	if name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_product", "Product name is required"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	if name == AllProductsName {
		return services.AllProducts, true
	}
	return name, true
}

// ParsePeriod builds a period from the optional year, month and day path
// parameters, falling back to query parameters of the same names.
func ParsePeriod(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (models.Period, bool) {
	var parts [3]*int
	for i, key := range []string{"year", "month", "day"} {
		raw := r.PathValue(key)
		if raw == "" {
			raw = r.URL.Query().Get(key)
		}
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_period", fmt.Sprintf("Invalid %s %q", key, raw)); err != nil {
				logger.Error("Failed to write error response", zap.Error(err))
			}
			return models.Period{}, false
		}
		parts[i] = &v
	}

	period, err := models.ParsePeriod(parts[0], parts[1], parts[2])
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_period", err.Error()); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return models.Period{}, false
	}
	return period, true
}

// ParseLimit reads the "limit" query parameter, capped at max. Absent means max.
func ParseLimit(w http.ResponseWriter, r *http.Request, max int, logger *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return max, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	if limit > max {
		limit = max
	}
	return limit, true
}
