package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/playhub/internal/api/handler"
	"github.com/mcoot/playhub/internal/api/middleware"
	rootmw "github.com/mcoot/playhub/internal/middleware"
	"github.com/mcoot/playhub/internal/services/auth"
	"github.com/mcoot/playhub/internal/services/ledger"
	"github.com/mcoot/playhub/internal/services/matchmaking"
	"github.com/mcoot/playhub/internal/services/presence"
	"github.com/mcoot/playhub/internal/services/roster"
	"github.com/mcoot/playhub/internal/services/verifier"
	"github.com/mcoot/playhub/internal/services/writegate"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger      *slog.Logger
	AuthService *auth.Service
	Presence    *presence.Tracker
	Ledger      *ledger.Service
	Matchmaking *matchmaking.Service
	Verifier    *verifier.Service
	Roster      *roster.Service
	Gate        *writegate.Gate
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	identityHandler := handler.NewIdentityHandler(cfg.AuthService, cfg.Roster)
	presenceHandler := handler.NewPresenceHandler(cfg.Presence)
	ledgerHandler := handler.NewLedgerHandler(cfg.Ledger)
	matchHandler := handler.NewMatchmakingHandler(cfg.Matchmaking)
	challengeHandler := handler.NewChallengeHandler(cfg.Verifier)
	healthHandler := handler.NewHealthHandler(cfg.Gate, cfg.AuthService)

	// Create middleware
	authMiddleware := middleware.Auth(cfg.AuthService)
	loggingMiddleware := rootmw.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(loggingMiddleware)
	api.Use(recoveryMiddleware)

	// Public routes: asking to join, claiming, logging in, health
	api.HandleFunc("/join-requests", identityHandler.RequestJoin).Methods(http.MethodPost)
	api.HandleFunc("/join-requests/{id}/claim", identityHandler.ClaimJoin).Methods(http.MethodPost)
	api.HandleFunc("/sessions", identityHandler.Login).Methods(http.MethodPost)
	api.HandleFunc("/health", healthHandler.Get).Methods(http.MethodGet)

	// Everything else requires a session
	protected := api.NewRoute().Subrouter()
	protected.Use(authMiddleware)

	protected.HandleFunc("/join-requests", identityHandler.ListJoinRequests).Methods(http.MethodGet)
	protected.HandleFunc("/join-requests/{id}/approve", identityHandler.ApproveJoin).Methods(http.MethodPost)
	protected.HandleFunc("/join-requests/{id}/deny", identityHandler.DenyJoin).Methods(http.MethodPost)
	protected.HandleFunc("/sessions/current", identityHandler.Logout).Methods(http.MethodDelete)

	protected.HandleFunc("/identities", identityHandler.List).Methods(http.MethodGet)
	protected.HandleFunc("/identities/me", identityHandler.GetMe).Methods(http.MethodGet)
	protected.HandleFunc("/identities/{id}", identityHandler.Remove).Methods(http.MethodDelete)

	protected.HandleFunc("/presence", presenceHandler.List).Methods(http.MethodGet)
	protected.HandleFunc("/presence/{id}", presenceHandler.Get).Methods(http.MethodGet)

	protected.HandleFunc("/inventory", ledgerHandler.Inventory).Methods(http.MethodGet)
	protected.HandleFunc("/inventory/grant", ledgerHandler.Grant).Methods(http.MethodPost)
	protected.HandleFunc("/inventory/import", ledgerHandler.Import).Methods(http.MethodPost)

	protected.HandleFunc("/offers", ledgerHandler.CreateOffer).Methods(http.MethodPost)
	protected.HandleFunc("/offers", ledgerHandler.ListOffers).Methods(http.MethodGet)
	protected.HandleFunc("/offers/{id}", ledgerHandler.GetOffer).Methods(http.MethodGet)
	protected.HandleFunc("/offers/{id}/accept", ledgerHandler.Accept).Methods(http.MethodPost)
	protected.HandleFunc("/offers/{id}/reject", ledgerHandler.Reject).Methods(http.MethodPost)
	protected.HandleFunc("/offers/{id}/cancel", ledgerHandler.Cancel).Methods(http.MethodPost)

	protected.HandleFunc("/queue", matchHandler.Enqueue).Methods(http.MethodPost)
	protected.HandleFunc("/queue", matchHandler.Status).Methods(http.MethodGet)
	protected.HandleFunc("/queue", matchHandler.Cancel).Methods(http.MethodDelete)

	protected.HandleFunc("/matches/{id}", matchHandler.GetMatch).Methods(http.MethodGet)
	protected.HandleFunc("/matches/{id}/rematch", matchHandler.Rematch).Methods(http.MethodPost)
	protected.HandleFunc("/matches/{id}/complete", matchHandler.Complete).Methods(http.MethodPost)

	protected.HandleFunc("/challenges", challengeHandler.Issue).Methods(http.MethodPost)
	protected.HandleFunc("/challenges/redeem", challengeHandler.Redeem).Methods(http.MethodPost)

	protected.HandleFunc("/health/degrade", healthHandler.Degrade).Methods(http.MethodPost)
	protected.HandleFunc("/health/recover", healthHandler.Recover).Methods(http.MethodPost)

	return r
}
