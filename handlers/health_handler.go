package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/services/providers"
	"github.com/opswatch/llm-orchestrator/utils"
)

// Pinger is the readiness probe surface of the database connection
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	registry *providers.Registry
	db       Pinger // nil when the ledger database is disabled
	logger   *zap.Logger
}

// NewHealthHandler creates a HealthHandler
func NewHealthHandler(registry *providers.Registry, db Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		db:       db,
		logger:   logger,
	}
}

// HandleHealthz handles GET /healthz. Liveness only: the process answers.
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, map[string]string{"status": "ok"})
}

// HandleReadyz handles GET /readyz. Ready means at least one provider is
// registered and, when a ledger database is configured, it answers a ping.
func (h *HealthHandler) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}

	ready := true
	if h.registry.Len() == 0 {
		checks["providers"] = "no providers registered"
		ready = false
	} else {
		checks["providers"] = "ok"
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.db.HealthCheck(ctx); err != nil {
			h.logger.Warn("readiness database check failed", zap.Error(err))
			checks["database"] = err.Error()
			ready = false
		} else {
			checks["database"] = "ok"
		}
	}

	if !ready {
		_ = utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"checks": checks,
		})
		return
	}
	_ = utils.WriteOK(w, map[string]interface{}{
		"status": "ready",
		"checks": checks,
	})
}
