package tools

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
	"github.com/opendatacube/cubedash-engine/pkg/models"
)

// ErrorResponse represents a structured error in tool results.
// Actionable errors are returned as a successful tool result so the client
// sees the details instead of a bare protocol failure.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable errors the caller can fix (unknown product,
// invalid period). System failures should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
//
// Example:
//
//	return NewErrorResultWithDetails(
//	    "unknown_product",
//	    "no product named 'ls9' exists",
//	    map[string]any{"products": names},
//	), nil
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// serviceErrorResult converts actionable service errors about product into
// error results. Any other error is returned as is.
func serviceErrorResult(err error, product string) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, apperrors.ErrUnknownProduct):
		return NewErrorResultWithDetails("unknown_product", err.Error(), map[string]any{
			"product":   product,
			"next_step": "call list_products for the summarised product names",
		}), nil
	case errors.Is(err, models.ErrInvalidPeriod):
		return NewErrorResult("invalid_period", err.Error()), nil
	case errors.Is(err, apperrors.ErrPeriodOutOfRange):
		return NewErrorResultWithDetails("period_out_of_range", err.Error(), map[string]any{
			"product":   product,
			"next_step": "call get_product for the product's time range",
		}), nil
	case errors.Is(err, apperrors.ErrSummaryNotGenerated):
		return NewErrorResultWithDetails("summary_not_generated",
			"this summary has not been generated yet; run the generator for the product",
			map[string]any{"product": product}), nil
	case errors.Is(err, apperrors.ErrTooManyRequests):
		return NewErrorResult("too_many_requests", "too many summaries are being generated; retry shortly"), nil
	}
	return nil, err
}

// jsonResult marshals v into a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
