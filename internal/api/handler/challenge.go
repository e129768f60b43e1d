package handler

import (
	"net/http"

	"github.com/mcoot/playhub/internal/api/middleware"
	"github.com/mcoot/playhub/internal/api/request"
	"github.com/mcoot/playhub/internal/api/response"
	"github.com/mcoot/playhub/internal/services/verifier"
)

// ChallengeHandler issues and redeems anti-cheat challenges
type ChallengeHandler struct {
	verifier *verifier.Service
}

// NewChallengeHandler creates a new challenge handler
func NewChallengeHandler(verifier *verifier.Service) *ChallengeHandler {
	return &ChallengeHandler{verifier: verifier}
}

// Issue handles POST /api/v1/challenges
func (h *ChallengeHandler) Issue(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	var req request.IssueChallengeRequest
	if err := decode(w, r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	challenge, err := h.verifier.IssueChallenge(r.Context(), identity.ID, req.GameKey)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.ChallengeFromModel(challenge))
}

// Redeem handles POST /api/v1/challenges/redeem. A transcript that does not
// support the claim is a 200 with passed=false.
func (h *ChallengeHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	var req request.RedeemRequest
	if err := decode(w, r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	verdict, err := h.verifier.Redeem(r.Context(), identity.ID, req.Redemption())
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.VerdictFromService(verdict))
}
