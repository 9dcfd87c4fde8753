package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
	"github.com/opendatacube/cubedash-engine/pkg/models"
	"github.com/opendatacube/cubedash-engine/pkg/services"
)

// SummaryToolDeps are the collaborators of the summary tools.
type SummaryToolDeps struct {
	Reader        *services.SummaryReader
	MaxFootprints int
	Logger        *zap.Logger
}

// productListItem is the compact product entry of list_products.
type productListItem struct {
	Name         string `json:"name"`
	DatasetCount int    `json:"dataset_count"`
	TimeEarliest string `json:"time_earliest,omitempty"`
	TimeLatest   string `json:"time_latest,omitempty"`
}

type productDetail struct {
	*models.ProductSummary
	RegionKind *services.RegionKind `json:"region_kind,omitempty"`
}

// RegisterSummaryTools adds the product and summary tools to the MCP server.
func RegisterSummaryTools(s *server.MCPServer, deps *SummaryToolDeps) {
	registerListProductsTool(s, deps)
	registerGetProductTool(s, deps)
	registerGetSummaryTool(s, deps)
	registerGetFootprintsTool(s, deps)
}

func registerListProductsTool(s *server.MCPServer, deps *SummaryToolDeps) {
	tool := mcp.NewTool(
		"list_products",
		mcp.WithDescription("Lists every product with generated statistics: dataset count and time bounds"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		products, err := deps.Reader.Store().ListProductSummaries(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list products: %w", err)
		}

		items := make([]productListItem, 0, len(products))
		for _, p := range products {
			item := productListItem{Name: p.Name, DatasetCount: p.DatasetCount}
			if p.TimeEarliest != nil && p.TimeLatest != nil {
				item.TimeEarliest = p.TimeEarliest.UTC().Format("2006-01-02")
				item.TimeLatest = p.TimeLatest.UTC().Format("2006-01-02")
			}
			items = append(items, item)
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

		return jsonResult(map[string]any{"products": items})
	})
}

func registerGetProductTool(s *server.MCPServer, deps *SummaryToolDeps) {
	tool := mcp.NewTool(
		"get_product",
		mcp.WithDescription("Returns a product's statistics: time bounds, source and derived products, fixed metadata and region grouping"),
		mcp.WithString(
			"product",
			mcp.Required(),
			mcp.Description("Product name, eg. 'ls8_nbar_albers'"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("product")
		if err != nil {
			return nil, err
		}
		name = trimString(name)
		if name == "" {
			return NewErrorResult("invalid_parameters", "parameter 'product' cannot be empty"), nil
		}

		product, err := deps.Reader.Store().GetProductSummary(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to get product: %w", err)
		}
		if product == nil {
			return serviceErrorResult(fmt.Errorf("%w: %s", apperrors.ErrUnknownProduct, name), name)
		}
		info, err := deps.Reader.Store().ProductRegionInfo(ctx, name)
		if err != nil {
			return serviceErrorResult(err, name)
		}

		return jsonResult(productDetail{ProductSummary: product, RegionKind: services.NewRegionKind(info)})
	})
}

func registerGetSummaryTool(s *server.MCPServer, deps *SummaryToolDeps) {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Returns the dataset summary of a product over a period: count, timeline, regions, footprint, size and CRSes. " +
			"Omit the product for every product combined."),
		mcp.WithString("product", mcp.Description("Optional - product name. Omit to combine all products")),
		mcp.WithBoolean("include_footprint", mcp.Description("Optional - include the GeoJSON footprint (default: false)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	}
	opts = append(opts, periodOptions()...)
	tool := mcp.NewTool("get_summary", opts...)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := trimString(getOptionalString(req, "product"))
		period, err := periodFromRequest(req)
		if err != nil {
			return serviceErrorResult(err, name)
		}

		view, err := deps.Reader.View(ctx, name, period)
		if err != nil {
			return serviceErrorResult(err, name)
		}
		if !req.GetBool("include_footprint", false) {
			view.Footprint = nil
		}

		deps.Logger.Debug("Served summary",
			zap.String("product", name),
			zap.String("period", period.String()),
			zap.Int("dataset_count", view.DatasetCount))
		return jsonResult(view)
	})
}

func registerGetFootprintsTool(s *server.MCPServer, deps *SummaryToolDeps) {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Returns dataset footprints of a product over a period as a GeoJSON FeatureCollection"),
		mcp.WithString("product", mcp.Required(), mcp.Description("Product name")),
		mcp.WithString("region", mcp.Description("Optional - only datasets in this region code, eg. '90_84'")),
		mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Max footprints to return (default and max: %d)", deps.MaxFootprints))),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	}
	opts = append(opts, periodOptions()...)
	tool := mcp.NewTool("get_footprints", opts...)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("product")
		if err != nil {
			return nil, err
		}
		name = trimString(name)
		if name == "" {
			return NewErrorResult("invalid_parameters", "parameter 'product' cannot be empty"), nil
		}
		period, err := periodFromRequest(req)
		if err != nil {
			return serviceErrorResult(err, name)
		}

		limit := deps.MaxFootprints
		if v := getOptionalInt(req, "limit"); v != nil {
			if *v < 1 {
				return NewErrorResult("invalid_parameters", "parameter 'limit' must be positive"), nil
			}
			limit = min(*v, deps.MaxFootprints)
		}
		var regionCode *string
		if code := trimString(getOptionalString(req, "region")); code != "" {
			regionCode = &code
		}

		features, err := deps.Reader.Store().GetDatasetFootprints(ctx, name, period, regionCode, limit)
		if err != nil {
			return serviceErrorResult(err, name)
		}
		return jsonResult(features)
	})
}
