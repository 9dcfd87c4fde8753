package tools

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/opendatacube/cubedash-engine/pkg/models"
)

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

// getOptionalString extracts an optional string argument from the request.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return ""
	}
	val, ok := args[key].(string)
	if !ok {
		return ""
	}
	return val
}

// getOptionalFloat extracts an optional float argument from the request.
func getOptionalFloat(req mcp.CallToolRequest, key string) (float64, bool) {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return 0, false
	}
	val, ok := args[key].(float64)
	return val, ok
}

// getOptionalInt is getOptionalFloat truncated to an int, or nil when absent.
func getOptionalInt(req mcp.CallToolRequest, key string) *int {
	f, ok := getOptionalFloat(req, key)
	if !ok {
		return nil
	}
	v := int(f)
	return &v
}

// periodFromRequest reads the optional year, month and day arguments.
func periodFromRequest(req mcp.CallToolRequest) (models.Period, error) {
	return models.ParsePeriod(
		getOptionalInt(req, "year"),
		getOptionalInt(req, "month"),
		getOptionalInt(req, "day"),
	)
}

// periodOptions declares the year, month and day arguments of a tool.
func periodOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("year", mcp.Description("Optional - calendar year, eg. 2017. Omit for all time")),
		mcp.WithNumber("month", mcp.Description("Optional - month 1-12, requires year")),
		mcp.WithNumber("day", mcp.Description("Optional - day of month, requires year and month")),
	}
}
