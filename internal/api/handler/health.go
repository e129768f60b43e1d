package handler

import (
	"net/http"

	"github.com/mcoot/playhub/internal/api/middleware"
	"github.com/mcoot/playhub/internal/api/request"
	"github.com/mcoot/playhub/internal/api/response"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/auth"
	"github.com/mcoot/playhub/internal/services/writegate"
)

// HealthHandler reports and controls write availability
type HealthHandler struct {
	gate        *writegate.Gate
	authService *auth.Service
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(gate *writegate.Gate, authService *auth.Service) *HealthHandler {
	return &HealthHandler{gate: gate, authService: authService}
}

// Get handles GET /api/v1/health. Degraded mode still answers 200 so load
// balancers keep routing reads.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, response.HealthFromModel(h.gate.Health(), h.gate.RetryAfter()))
}

// Degrade handles POST /api/v1/health/degrade
func (h *HealthHandler) Degrade(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())
	if err := h.authService.RequireSupervisor(r.Context(), identity.ID); err != nil {
		WriteError(w, err)
		return
	}

	var req request.DegradeRequest
	if err := decode(w, r, &req, true); err != nil {
		WriteError(w, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "operator maintenance"
	}

	h.gate.Degrade(req.Reason, model.HealthSourceOperator)
	response.JSON(w, http.StatusOK, response.HealthFromModel(h.gate.Health(), h.gate.RetryAfter()))
}

// Recover handles POST /api/v1/health/recover
func (h *HealthHandler) Recover(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())
	if err := h.authService.RequireSupervisor(r.Context(), identity.ID); err != nil {
		WriteError(w, err)
		return
	}

	h.gate.Recover(model.HealthSourceOperator)
	response.JSON(w, http.StatusOK, response.HealthFromModel(h.gate.Health(), h.gate.RetryAfter()))
}
