package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/config"
	"github.com/opendatacube/cubedash-engine/pkg/database"
	"github.com/opendatacube/cubedash-engine/pkg/handlers"
	"github.com/opendatacube/cubedash-engine/pkg/mcp"
	"github.com/opendatacube/cubedash-engine/pkg/middleware"
	"github.com/opendatacube/cubedash-engine/pkg/services"
)

const shutdownTimeout = 30 * time.Second

// runServe starts the read API and blocks until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.BindAddr, "bind", cfg.BindAddr, "Address to listen on")
	fs.StringVar(&cfg.Port, "port", cfg.Port, "Port to listen on")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return exitUsage
	}

	loc, err := cfg.Generation.Location()
	if err != nil {
		userMessage("%v", err)
		return exitConfigUnavailable
	}

	db, err := connect(ctx, cfg, "cubedash-serve")
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		return exitConfigUnavailable
	}
	defer db.Close()

	store, err := services.OpenSummaryStore(ctx, db, loc, logger)
	if err != nil {
		if code, ok := schemaExitCode(err); ok {
			return code
		}
		logger.Error("Failed to open summary store", zap.Error(err))
		return 1
	}
	defer store.Close()

	limiter := services.NewLimiter(cfg.API.SummaryRateLimit, cfg.API.SummaryRateBurst)
	reader := services.NewSummaryReader(store, limiter, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, handlers.HealthDeps{
		DB:        db,
		Schema:    database.NewSchema(db, logger),
		Summaries: store,
	}, logger).RegisterRoutes(mux)
	handlers.NewProductsHandler(store, logger).RegisterRoutes(mux)
	handlers.NewSummaryHandler(reader, cfg.API.MaxFootprints, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mcpServer := mcp.NewServer(mcp.Config{
		Name:          "cubedash-engine",
		Version:       cfg.Version,
		Reader:        reader,
		MaxFootprints: cfg.API.MaxFootprints,
	}, logger)
	mux.Handle("/mcp", middleware.MCPRequestLogger(logger)(mcpServer.NewStreamableHTTPServer()))

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting cubedash-engine",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("on_demand_summaries", limiter != nil))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		return 1
	}
	return 0
}
