// Package mcp exposes summaries to MCP clients over streamable HTTP.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/mcp/tools"
	"github.com/opendatacube/cubedash-engine/pkg/services"
)

// Config describes what the server exposes. A nil Reader registers only the
// health tool.
type Config struct {
	Name          string
	Version       string
	Reader        *services.SummaryReader
	MaxFootprints int
}

// Server wraps the mcp-go MCPServer with the summary tools registered.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates the MCP server and registers its tools. Protocol errors are logged.
func NewServer(cfg Config, logger *zap.Logger) *Server {
	logger = logger.Named("mcp")
	hooks := &server.Hooks{}
	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		logger.Warn("MCP request failed",
			zap.Any("id", id),
			zap.String("method", string(method)),
			zap.Error(err))
	})

	s := &Server{
		mcp: server.NewMCPServer(
			cfg.Name,
			cfg.Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
			server.WithHooks(hooks),
		),
		logger: logger,
	}

	if cfg.Reader == nil {
		tools.RegisterHealthTool(s.mcp, cfg.Version, nil)
		return s
	}
	tools.RegisterHealthTool(s.mcp, cfg.Version, cfg.Reader.Store())
	tools.RegisterSummaryTools(s.mcp, &tools.SummaryToolDeps{
		Reader:        cfg.Reader,
		MaxFootprints: cfg.MaxFootprints,
		Logger:        logger,
	})
	return s
}

// MCP returns the underlying MCPServer.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer creates the HTTP transport. Sessions are not kept,
// so any replica can serve any request. The mux routes /mcp to it.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}
