package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/playhub/internal/api/middleware"
	"github.com/mcoot/playhub/internal/api/request"
	"github.com/mcoot/playhub/internal/api/response"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/matchmaking"
)

// MatchmakingHandler handles the queue and match lifecycle
type MatchmakingHandler struct {
	matchmaking *matchmaking.Service
}

// NewMatchmakingHandler creates a new matchmaking handler
func NewMatchmakingHandler(matchmaking *matchmaking.Service) *MatchmakingHandler {
	return &MatchmakingHandler{matchmaking: matchmaking}
}

// Enqueue handles POST /api/v1/queue
func (h *MatchmakingHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	var req request.EnqueueRequest
	if err := decode(w, r, &req, false); err != nil {
		WriteError(w, err)
		return
	}
	if req.GameKey == "" {
		WriteError(w, NewInvalidRequestError("game_key is required"))
		return
	}

	result, err := h.matchmaking.Enqueue(r.Context(), identity.ID, req.GameKey, req.Mode)
	if err != nil {
		WriteError(w, err)
		return
	}

	status := http.StatusAccepted
	if result.Match != nil {
		status = http.StatusOK
	}
	response.JSON(w, status, response.QueueResultFromService(result))
}

// Cancel handles DELETE /api/v1/queue
func (h *MatchmakingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	result, err := h.matchmaking.CancelQueue(r.Context(), identity.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.QueueResultFromService(result))
}

// Status handles GET /api/v1/queue
func (h *MatchmakingHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	entry, err := h.matchmaking.QueueStatus(r.Context(), identity.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.QueueEntryFromModel(entry))
}

// GetMatch handles GET /api/v1/matches/{id}
func (h *MatchmakingHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	match, err := h.matchmaking.GetMatch(r.Context(), model.MatchID(mux.Vars(r)["id"]), identity.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.MatchFromModel(match))
}

// Rematch handles POST /api/v1/matches/{id}/rematch
func (h *MatchmakingHandler) Rematch(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	result, err := h.matchmaking.Rematch(r.Context(), model.MatchID(mux.Vars(r)["id"]), identity.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	status := http.StatusAccepted
	if result.Match != nil {
		status = http.StatusOK
	}
	response.JSON(w, status, response.QueueResultFromService(result))
}

// Complete handles POST /api/v1/matches/{id}/complete
func (h *MatchmakingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	var req request.CompleteMatchRequest
	if err := decode(w, r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	result, err := h.matchmaking.CompleteMatch(r.Context(), model.MatchID(mux.Vars(r)["id"]), identity.ID, matchmaking.Completion{
		ClaimedWinner: model.IdentityID(req.ClaimedWinner),
		Evidence:      req.Evidence,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.CompletionResultFromService(result))
}
