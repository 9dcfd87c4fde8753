package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
	"github.com/opendatacube/cubedash-engine/pkg/models"
)

// getTextContent returns the text of the first content item.
func getTextContent(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	if text, ok := mcp.AsTextContent(result.Content[0]); ok {
		return text.Text
	}
	return ""
}

func decodeErrorResult(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, result)
	require.True(t, result.IsError)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &got))
	return got
}

func TestNewErrorResult(t *testing.T) {
	tests := []struct {
		name     string
		result   *mcp.CallToolResult
		wantJSON string
	}{
		{
			name:     "without details",
			result:   NewErrorResult("invalid_parameters", "parameter 'limit' must be positive"),
			wantJSON: `{"error":true,"code":"invalid_parameters","message":"parameter 'limit' must be positive"}`,
		},
		{
			name: "with details",
			result: NewErrorResultWithDetails("unknown_product", "unknown product: ls9", map[string]any{
				"product": "ls9",
				"count":   2,
			}),
			wantJSON: `{"error":true,"code":"unknown_product","message":"unknown product: ls9","details":{"product":"ls9","count":2}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Len(t, tt.result.Content, 1)
			var want map[string]any
			require.NoError(t, json.Unmarshal([]byte(tt.wantJSON), &want))
			assert.Equal(t, want, decodeErrorResult(t, tt.result))
		})
	}
}

func TestServiceErrorResult(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantProduct any
	}{
		{"unknown product", fmt.Errorf("%w: ls9", apperrors.ErrUnknownProduct), "unknown_product", "ls9"},
		{"invalid period", fmt.Errorf("%w: month 13", models.ErrInvalidPeriod), "invalid_period", nil},
		{"not generated", fmt.Errorf("ls9: %w", apperrors.ErrSummaryNotGenerated), "summary_not_generated", "ls9"},
		{"out of range", fmt.Errorf("%w: ls9 1999", apperrors.ErrPeriodOutOfRange), "period_out_of_range", "ls9"},
		{"throttled", apperrors.ErrTooManyRequests, "too_many_requests", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := serviceErrorResult(tt.err, "ls9")
			require.NoError(t, err)

			got := decodeErrorResult(t, result)
			assert.Equal(t, tt.wantCode, got["code"])
			if tt.wantProduct == nil {
				assert.NotContains(t, got, "details")
				return
			}
			details, ok := got["details"].(map[string]any)
			require.True(t, ok, "details should be an object")
			assert.Equal(t, tt.wantProduct, details["product"])
		})
	}

	t.Run("system failure", func(t *testing.T) {
		failure := errors.New("connection reset by peer")
		result, err := serviceErrorResult(failure, "ls9")
		assert.Nil(t, result)
		assert.Equal(t, failure, err)
	})
}
