package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// SummaryStatus is the part of the summary store the health tool reports on.
type SummaryStatus interface {
	ListCompleteProducts(ctx context.Context) ([]string, error)
	GetLastUpdated(ctx context.Context) (time.Time, bool)
}

type healthResult struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	SummarisedProducts *int   `json:"summarised_products,omitempty"`
	CatalogUpdated     string `json:"catalog_updated,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// With a non-nil status it also reports how many products have summaries.
func RegisterHealthTool(s *server.MCPServer, version string, status SummaryStatus) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version and how many products are summarised"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		health := healthResult{Status: "ok", Version: version}
		if status != nil {
			complete, err := status.ListCompleteProducts(ctx)
			if err != nil {
				health.Status = "degraded"
			} else {
				n := len(complete)
				health.SummarisedProducts = &n
			}
			if updated, ok := status.GetLastUpdated(ctx); ok {
				health.CatalogUpdated = updated.UTC().Format(time.RFC3339)
			}
		}

		result, err := jsonResult(health)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return result, nil
	})
}
