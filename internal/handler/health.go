package handler

import (
	"net/http"

	"github.com/simonlevelai/askeve-core/internal/failover"
	natsclient "github.com/simonlevelai/askeve-core/internal/nats"
	"github.com/simonlevelai/askeve-core/internal/orchestrator"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient *natsclient.Client
	providers  *failover.Manager
	chat       *orchestrator.ChatManager
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(natsClient *natsclient.Client, providers *failover.Manager, chat *orchestrator.ChatManager) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		providers:  providers,
		chat:       chat,
	}
}

// Health handles GET /health. It reports provider circuit states and SLA
// compliance alongside liveness so operators can see degradation before
// readiness flips.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	records, sla := h.providers.Health()

	status := "healthy"
	for _, rec := range records {
		if rec.CircuitState != "closed" {
			status = "degraded"
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"providers":      records,
		"sla_compliance": sla,
		"agents":         h.chat.Stats(),
		"messaging":      h.chat.Communicator().Stats(),
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.natsClient == nil || !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
