package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
	"github.com/opendatacube/cubedash-engine/pkg/config"
)

const healthCheckTimeout = 2 * time.Second

// Pinger checks the database is reachable. Satisfied by *database.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchemaChecker reports whether the summary schema can be used. Satisfied by
// *database.Schema.
type SchemaChecker interface {
	Check(ctx context.Context) error
}

// SummaryStatus reports how far summary generation has got.
type SummaryStatus interface {
	ListCompleteProducts(ctx context.Context) ([]string, error)
	GetLastUpdated(ctx context.Context) (time.Time, bool)
}

// HealthDeps are the optional checks behind /health. Nil fields are skipped.
type HealthDeps struct {
	DB        Pinger
	Schema    SchemaChecker
	Summaries SummaryStatus
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status             string `json:"status"`
	Database           string `json:"database,omitempty"`
	Schema             string `json:"schema,omitempty"`
	SummarisedProducts *int   `json:"summarised_products,omitempty"`
	CatalogUpdated     string `json:"catalog_updated,omitempty"`
}

// PingResponse identifies the running service.
type PingResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	Service          string `json:"service"`
	GoVersion        string `json:"go_version"`
	Environment      string `json:"environment"`
	GroupingTimeZone string `json:"grouping_time_zone"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	deps   HealthDeps
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(cfg *config.Config, deps HealthDeps, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, deps: deps, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health. An unreachable database or unusable schema
// answers 503; summary counts are informational only.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK
	degrade := func() {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	if h.deps.DB != nil {
		if err := h.deps.DB.Ping(ctx); err != nil {
			h.logger.Warn("Database health check failed", zap.Error(err))
			resp.Database = "unreachable"
			degrade()
		} else {
			resp.Database = "ok"
		}
	}

	if h.deps.Schema != nil && resp.Database != "unreachable" {
		resp.Schema = schemaState(h.deps.Schema.Check(ctx))
		if resp.Schema != "ok" {
			h.logger.Warn("Summary schema is not usable", zap.String("schema", resp.Schema))
			degrade()
		}
	}

	if h.deps.Summaries != nil && status == http.StatusOK {
		if names, err := h.deps.Summaries.ListCompleteProducts(ctx); err != nil {
			h.logger.Warn("Failed to count summarised products", zap.Error(err))
		} else {
			n := len(names)
			resp.SummarisedProducts = &n
		}
		if updated, ok := h.deps.Summaries.GetLastUpdated(ctx); ok {
			resp.CatalogUpdated = updated.UTC().Format(time.RFC3339)
		}
	}

	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

func schemaState(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrSchemaNotInitialised):
		return "missing"
	case errors.Is(err, apperrors.ErrSchemaOutdated):
		return "outdated"
	default:
		return "unknown"
	}
}

// Ping handles GET /ping.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	response := PingResponse{
		Status:           "ok",
		Version:          h.cfg.Version,
		Service:          "cubedash-engine",
		GoVersion:        runtime.Version(),
		Environment:      h.cfg.Env,
		GroupingTimeZone: h.cfg.Generation.GroupingTimeZone,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
