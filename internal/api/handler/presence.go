package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/playhub/internal/api/response"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/presence"
)

// PresenceHandler exposes presence snapshots
type PresenceHandler struct {
	tracker *presence.Tracker
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(tracker *presence.Tracker) *PresenceHandler {
	return &PresenceHandler{tracker: tracker}
}

// List handles GET /api/v1/presence
func (h *PresenceHandler) List(w http.ResponseWriter, r *http.Request) {
	snaps := h.tracker.Snapshots()
	out := make([]response.Presence, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, response.PresenceFromModel(snap))
	}
	response.JSON(w, http.StatusOK, out)
}

// Get handles GET /api/v1/presence/{id}
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := model.IdentityID(mux.Vars(r)["id"])
	response.JSON(w, http.StatusOK, response.PresenceFromModel(h.tracker.Snapshot(id)))
}
