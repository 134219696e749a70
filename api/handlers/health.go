package handlers

import (
	"net/http"

	"github.com/malbeclabs/waybill/agent/pkg/workflow/logistics"
)

// HealthResponse reports service liveness and whether the agent stack
// (LLM, database, prompts) initialized successfully.
type HealthResponse struct {
	Status           string `json:"status"`
	AgentInitialized bool   `json:"agent_initialized"`
}

// Health serves GET /health.
func Health(agent *logistics.Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:           "healthy",
			AgentInitialized: agent != nil,
		})
	}
}
