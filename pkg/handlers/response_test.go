package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
	"github.com/opendatacube/cubedash-engine/pkg/models"
)

func TestErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()

	if err := ErrorResponse(w, http.StatusNotFound, "not_found", "unknown product: ls9_level1_scene"); err != nil {
		t.Fatalf("ErrorResponse returned error: %v", err)
	}

	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["error"] != "not_found" || body["message"] != "unknown product: ls9_level1_scene" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestWriteJSON_Envelope(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		data       any
		want       string
	}{
		{
			"product list",
			http.StatusOK,
			ApiResponse{Success: true, Data: ProductListResponse{Products: []*models.ProductSummary{}}},
			`{"success":true,"data":{"products":[]}}`,
		},
		{
			"degraded health",
			http.StatusServiceUnavailable,
			HealthResponse{Status: "degraded", Database: "unreachable"},
			`{"status":"degraded","database":"unreachable"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			if err := WriteJSON(w, tt.statusCode, tt.data); err != nil {
				t.Fatalf("WriteJSON returned error: %v", err)
			}
			if w.Code != tt.statusCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.statusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			var got, want any
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("invalid JSON %q: %v", w.Body.String(), err)
			}
			_ = json.Unmarshal([]byte(tt.want), &want)
			if fmt.Sprint(got) != fmt.Sprint(want) {
				t.Errorf("body = %s, want %s", w.Body.String(), tt.want)
			}
		})
	}
}

func TestWriteJSON_UnencodableData(t *testing.T) {
	w := httptest.NewRecorder()

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: make(chan int)}); err == nil {
		t.Error("expected error for unencodable data, got nil")
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
}

func TestWriteJSON_KeepsContentType(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("Content-Type", "application/geo+json")

	if err := WriteJSON(w, http.StatusOK, map[string]string{"type": "FeatureCollection"}); err != nil {
		t.Fatalf("WriteJSON returned error: %v", err)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("Content-Type = %q, want application/geo+json", ct)
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown product", fmt.Errorf("%w: ls9", apperrors.ErrUnknownProduct), http.StatusNotFound, "not_found"},
		{"invalid period", fmt.Errorf("%w: month 13", models.ErrInvalidPeriod), http.StatusBadRequest, "invalid_period"},
		{"not generated", apperrors.ErrSummaryNotGenerated, http.StatusNotFound, "summary_not_generated"},
		{"throttled", apperrors.ErrTooManyRequests, http.StatusTooManyRequests, "too_many_requests"},
		{"schema", apperrors.ErrSchemaOutdated, http.StatusServiceUnavailable, "schema_unavailable"},
		{"other", errors.New("connection reset by peer"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, tt.err, zap.NewNop())

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}
			if body["error"] != tt.wantCode {
				t.Errorf("error = %q, want %q", body["error"], tt.wantCode)
			}
		})
	}
}
