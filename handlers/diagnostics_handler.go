package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/services/diagnostics"
	"github.com/opswatch/llm-orchestrator/services/ledger"
	"github.com/opswatch/llm-orchestrator/services/providers"
	"github.com/opswatch/llm-orchestrator/utils"
)

// maxUsageLimit caps one usage page
const maxUsageLimit = 1000

// DiagnosticsHandler serves the admin observability endpoints
type DiagnosticsHandler struct {
	diagnostics *diagnostics.Service
	registry    *providers.Registry
	ledger      *ledger.Service // nil when persistence is disabled
	logger      *zap.Logger
}

// NewDiagnosticsHandler creates a DiagnosticsHandler. ledgerSvc may be nil.
func NewDiagnosticsHandler(diag *diagnostics.Service, registry *providers.Registry, ledgerSvc *ledger.Service, logger *zap.Logger) *DiagnosticsHandler {
	return &DiagnosticsHandler{
		diagnostics: diag,
		registry:    registry,
		ledger:      ledgerSvc,
		logger:      logger,
	}
}

// HandleDiagnostics handles GET /api/v1/diagnostics
func (h *DiagnosticsHandler) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	snapshot := h.diagnostics.Collect(time.Now())
	if err := utils.WriteOK(w, snapshot); err != nil {
		h.logger.Error("failed to write diagnostics response", zap.Error(err))
	}
}

// providerSummary is the public view of one registered provider. API keys
// never appear here; APIKeyEnv is the variable name, not the secret.
type providerSummary struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Model     string `json:"model"`
	Priority  int    `json:"priority"`
	APIKeyEnv string `json:"api_key_env,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
}

// HandleProviders handles GET /api/v1/providers
func (h *DiagnosticsHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.All()
	summaries := make([]providerSummary, len(entries))
	for i, entry := range entries {
		summaries[i] = providerSummary{
			Name:      entry.Spec.Name,
			Kind:      string(entry.Spec.Kind),
			Model:     entry.Spec.Model,
			Priority:  entry.Spec.Priority,
			APIKeyEnv: entry.Spec.APIKeyEnv,
			BaseURL:   entry.Spec.BaseURL,
		}
	}
	if err := utils.WriteOK(w, map[string]interface{}{"providers": summaries}); err != nil {
		h.logger.Error("failed to write providers response", zap.Error(err))
	}
}

// HandleUsage handles GET /api/v1/usage, reading back persisted usage
// records. Optional query params: provider, limit.
func (h *DiagnosticsHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		_ = utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse{
			Error:   "not_found",
			Message: "usage ledger is disabled",
		})
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxUsageLimit {
			_ = utils.WriteBadRequest(w, "limit must be an integer between 1 and 1000", nil)
			return
		}
		limit = parsed
	}

	records, err := h.ledger.RecentUsage(r.Context(), r.URL.Query().Get("provider"), limit)
	if err != nil {
		h.logger.Error("failed to read usage records", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "failed to read usage records")
		return
	}
	_ = utils.WriteOK(w, map[string]interface{}{"usage": records})
}
