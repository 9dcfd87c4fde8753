package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/models"
	"github.com/opendatacube/cubedash-engine/pkg/services"
)

func TestParseProductName(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name      string
		pathValue string
		want      string
		wantOK    bool
	}{
		{"product", "ls8_nbar_albers", "ls8_nbar_albers", true},
		{"all products", "_all", services.AllProducts, true},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.SetPathValue("product", tt.pathValue)
			rec := httptest.NewRecorder()

			got, ok := ParseProductName(rec, req, logger)

			if ok != tt.wantOK {
				t.Fatalf("ParseProductName() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseProductName() = %q, want %q", got, tt.want)
			}
			if !ok && rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestParsePeriod(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name   string
		path   map[string]string
		query  string
		want   models.Period
		wantOK bool
	}{
		{name: "all time", want: models.AllTime(), wantOK: true},
		{name: "year", path: map[string]string{"year": "2017"}, want: models.Year(2017), wantOK: true},
		{name: "month", path: map[string]string{"year": "2017", "month": "4"}, want: models.Month(2017, time.April), wantOK: true},
		{name: "day", path: map[string]string{"year": "2016", "month": "02", "day": "29"}, want: models.Day(2016, time.February, 29), wantOK: true},
		{name: "query parameters", query: "?year=2018&month=12", want: models.Month(2018, time.December), wantOK: true},
		{name: "not a number", path: map[string]string{"year": "twenty"}},
		{name: "month out of range", path: map[string]string{"year": "2017", "month": "13"}},
		{name: "day out of range", path: map[string]string{"year": "2017", "month": "2", "day": "29"}},
		{name: "month without year", query: "?month=3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test"+tt.query, nil)
			for k, v := range tt.path {
				req.SetPathValue(k, v)
			}
			rec := httptest.NewRecorder()

			got, ok := ParsePeriod(rec, req, logger)

			if ok != tt.wantOK {
				t.Fatalf("ParsePeriod() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				if rec.Code != http.StatusBadRequest {
					t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
				}
				var body map[string]string
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if body["error"] != "invalid_period" {
					t.Errorf("error = %q, want invalid_period", body["error"])
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParsePeriod() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLimit(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		query  string
		want   int
		wantOK bool
	}{
		{"", 100, true},
		{"?limit=10", 10, true},
		{"?limit=5000", 100, true},
		{"?limit=0", 0, false},
		{"?limit=many", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test"+tt.query, nil)
			rec := httptest.NewRecorder()

			got, ok := ParseLimit(rec, req, 100, logger)

			if ok != tt.wantOK {
				t.Fatalf("ParseLimit() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseLimit() = %d, want %d", got, tt.want)
			}
		})
	}
}
