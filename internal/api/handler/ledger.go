package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/playhub/internal/api/apierr"
	"github.com/mcoot/playhub/internal/api/middleware"
	"github.com/mcoot/playhub/internal/api/request"
	"github.com/mcoot/playhub/internal/api/response"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/ledger"
)

// LedgerHandler handles inventory and transfer offers
type LedgerHandler struct {
	ledger *ledger.Service
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(ledger *ledger.Service) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// Inventory handles GET /api/v1/inventory
func (h *LedgerHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	stacks, err := h.ledger.Inventory(r.Context(), identity.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.StacksFromModel(stacks))
}

// Grant handles POST /api/v1/inventory/grant
func (h *LedgerHandler) Grant(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	var req request.GrantRequest
	if err := decode(w, r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	stack, err := h.ledger.Grant(r.Context(), identity.ID, model.IdentityID(req.Owner), model.ItemKey(req.Item), req.Qty)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.StackFromModel(stack))
}

// Import handles POST /api/v1/inventory/import
func (h *LedgerHandler) Import(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	var req request.ImportRequest
	if err := decode(w, r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	stacks := make([]model.ResourceStack, 0, len(req.Stacks))
	for _, s := range req.Stacks {
		stacks = append(stacks, model.ResourceStack{
			OwnerID: model.IdentityID(s.Owner),
			ItemKey: model.ItemKey(s.Item),
			Qty:     s.Qty,
		})
	}

	n, err := h.ledger.Import(r.Context(), identity.ID, stacks)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]int{"imported": n})
}

// CreateOffer handles POST /api/v1/offers
func (h *LedgerHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	var req request.CreateOfferRequest
	if err := decode(w, r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	result, err := h.ledger.CreateOffer(r.Context(), identity.ID, model.IdentityID(req.To), model.ItemKey(req.Item), req.Qty)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.TransferResultFromLedger(result))
}

// ListOffers handles GET /api/v1/offers
func (h *LedgerHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	offers, err := h.ledger.ListOffers(r.Context(), identity.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.OffersFromModel(offers))
}

// GetOffer handles GET /api/v1/offers/{id}
func (h *LedgerHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	offer, err := h.ledger.GetOffer(r.Context(), model.OfferID(mux.Vars(r)["id"]), identity.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.OfferFromModel(offer))
}

// Accept handles POST /api/v1/offers/{id}/accept
func (h *LedgerHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, h.ledger.Accept)
}

// Reject handles POST /api/v1/offers/{id}/reject
func (h *LedgerHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, h.ledger.Reject)
}

// Cancel handles POST /api/v1/offers/{id}/cancel
func (h *LedgerHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, h.ledger.Cancel)
}

type finalizeFunc func(ctx context.Context, id model.OfferID, by model.IdentityID) (*ledger.TransferResult, error)

func (h *LedgerHandler) finalize(w http.ResponseWriter, r *http.Request, fn finalizeFunc) {
	identity := middleware.MustGetIdentity(r.Context())

	result, err := fn(r.Context(), model.OfferID(mux.Vars(r)["id"]), identity.ID)
	if err != nil {
		// A conflicting retry still learns where the offer ended up
		if errors.Is(err, model.ErrAlreadyFinalized) && result != nil {
			err = apierr.WithStatus(err, string(result.Status))
		}
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.TransferResultFromLedger(result))
}
