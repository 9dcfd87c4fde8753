package handlers

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
	"github.com/opendatacube/cubedash-engine/pkg/models"
)

// ApiResponse is the envelope of every JSON API response.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
// A Content-Type already set on w is kept.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	// Encode first so an unencodable value doesn't leave a half-written 200.
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	_, err = w.Write(append(body, '\n'))
	return err
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var status int
	var code string
	switch {
	case errors.Is(err, apperrors.ErrPeriodOutOfRange):
		status, code = http.StatusNotFound, "period_out_of_range"
	case errors.Is(err, apperrors.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrInvalidPeriod):
		status, code = http.StatusBadRequest, "invalid_period"
	case errors.Is(err, apperrors.ErrSummaryNotGenerated):
		status, code = http.StatusNotFound, "summary_not_generated"
	case errors.Is(err, apperrors.ErrTooManyRequests):
		w.Header().Set("Retry-After", "1")
		status, code = http.StatusTooManyRequests, "too_many_requests"
	case errors.Is(err, apperrors.ErrSchemaNotInitialised), errors.Is(err, apperrors.ErrSchemaOutdated):
		status, code = http.StatusServiceUnavailable, "schema_unavailable"
	default:
		logger.Error("Request failed", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "internal error"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if err := ErrorResponse(w, status, code, err.Error()); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
