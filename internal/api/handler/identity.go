package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mcoot/playhub/internal/api/middleware"
	"github.com/mcoot/playhub/internal/api/request"
	"github.com/mcoot/playhub/internal/api/response"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/auth"
	"github.com/mcoot/playhub/internal/services/roster"
)

// IdentityHandler handles join requests, sessions and identities
type IdentityHandler struct {
	authService *auth.Service
	roster      *roster.Service
}

// NewIdentityHandler creates a new identity handler
func NewIdentityHandler(authService *auth.Service, roster *roster.Service) *IdentityHandler {
	return &IdentityHandler{
		authService: authService,
		roster:      roster,
	}
}

// RequestJoin handles POST /api/v1/join-requests
func (h *IdentityHandler) RequestJoin(w http.ResponseWriter, r *http.Request) {
	var req request.JoinRequest
	if err := decode(w, r, &req, false); err != nil {
		WriteError(w, err)
		return
	}
	if req.DisplayName == "" {
		WriteError(w, NewInvalidRequestError("display_name is required"))
		return
	}

	jr, err := h.authService.RequestJoin(r.Context(), req.DisplayName)
	if err != nil {
		WriteError(w, err)
		return
	}

	resp := response.JoinRequestFromModel(jr)
	resp.ClaimSecret = jr.ClaimSecret
	response.JSON(w, http.StatusCreated, resp)
}

// ListJoinRequests handles GET /api/v1/join-requests?status=pending
func (h *IdentityHandler) ListJoinRequests(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	status := model.JoinRequestStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.JoinRequestPending
	}

	reqs, err := h.authService.ListJoinRequests(r.Context(), identity.ID, status)
	if err != nil {
		WriteError(w, err)
		return
	}

	out := make([]response.JoinRequest, 0, len(reqs))
	for _, jr := range reqs {
		out = append(out, response.JoinRequestFromModel(jr))
	}
	response.JSON(w, http.StatusOK, out)
}

// ApproveJoin handles POST /api/v1/join-requests/{id}/approve
func (h *IdentityHandler) ApproveJoin(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())
	id := model.JoinRequestID(mux.Vars(r)["id"])

	created, err := h.authService.ApproveJoin(r.Context(), identity.ID, id)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.IdentityFromModel(created))
}

// DenyJoin handles POST /api/v1/join-requests/{id}/deny
func (h *IdentityHandler) DenyJoin(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())
	id := model.JoinRequestID(mux.Vars(r)["id"])

	if err := h.authService.DenyJoin(r.Context(), identity.ID, id); err != nil {
		WriteError(w, err)
		return
	}

	response.NoContent(w)
}

// ClaimJoin handles POST /api/v1/join-requests/{id}/claim
func (h *IdentityHandler) ClaimJoin(w http.ResponseWriter, r *http.Request) {
	var req request.ClaimJoinRequest
	if err := decode(w, r, &req, false); err != nil {
		WriteError(w, err)
		return
	}
	if req.Secret == "" {
		WriteError(w, NewInvalidRequestError("secret is required"))
		return
	}

	session, err := h.authService.ClaimJoin(r.Context(), model.JoinRequestID(mux.Vars(r)["id"]), req.Secret)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.AuthResponseFromSession(session))
}

// Login handles POST /api/v1/sessions
func (h *IdentityHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req request.LoginRequest
	if err := decode(w, r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	if req.Username == "" {
		WriteError(w, NewInvalidRequestError("username is required"))
		return
	}
	if req.Password == "" {
		WriteError(w, NewInvalidRequestError("password is required"))
		return
	}

	session, err := h.authService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.AuthResponseFromSession(session))
}

// Logout handles DELETE /api/v1/sessions/current
func (h *IdentityHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session != nil {
		h.authService.InvalidateSession(session.Token)
	}
	response.NoContent(w)
}

// GetMe handles GET /api/v1/identities/me
func (h *IdentityHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())
	response.JSON(w, http.StatusOK, response.IdentityFromModel(identity))
}

// List handles GET /api/v1/identities
func (h *IdentityHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())
	if err := h.authService.RequireSupervisor(r.Context(), identity.ID); err != nil {
		WriteError(w, err)
		return
	}

	ids, err := h.authService.ListIdentities(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.IdentitiesFromModel(ids))
}

// Remove handles DELETE /api/v1/identities/{id}?ban=true
func (h *IdentityHandler) Remove(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())
	target := model.IdentityID(mux.Vars(r)["id"])

	ban := false
	if v := r.URL.Query().Get("ban"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			WriteError(w, NewInvalidRequestError("ban must be true or false"))
			return
		}
		ban = parsed
	}

	removal, err := h.roster.RemoveIdentity(r.Context(), identity.ID, target, ban)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.RemovalFromResult(removal))
}
