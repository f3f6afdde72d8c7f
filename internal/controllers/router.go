package controllers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RealZimboGuy/reguaflow/internal/util"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/models"
)

// RegisterRoutes wires the HTTP routes for this controller.
func (c *ExecutionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/workflows/execute", c.RequireAuth(c.handleExecuteWorkflow))
	mux.HandleFunc("POST /api/workflows/{id}/batch", c.RequireAuth(c.handleBatchExecute))
	mux.HandleFunc("GET /api/workflows/{id}/flowchart", c.RequireAuth(c.handleFlowchart))
	mux.HandleFunc("GET /api/executions/{id}", c.RequireAuth(c.handleGetExecution))
	mux.HandleFunc("GET /api/clients/{id}/executions", c.RequireAuth(c.handleListClientExecutions))
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// SystemController serves unauthenticated liveness and metrics endpoints.
type SystemController struct {
	DB       Pinger
	Gatherer prometheus.Gatherer
}

func (c *SystemController) RegisterRoutes(mux *http.ServeMux) {
	gatherer := c.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", c.handleHealth)
}

func (c *SystemController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if c.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := c.DB.PingContext(ctx); err != nil {
			slog.ErrorContext(r.Context(), "Health check failed", "error", err)
			util.WriteJSONResponse(w, http.StatusServiceUnavailable, models.ErrorResponse{Error: "database unavailable"})
			return
		}
	}
	util.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
