// Package web assembles the server's top-level HTTP handler.
package web

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/playhub/internal/middleware"
	"github.com/mcoot/playhub/internal/web/ws"
)

// RouterConfig holds configuration for the top-level router
type RouterConfig struct {
	Logger  *slog.Logger
	API     http.Handler
	Gateway *ws.Gateway
}

// NewRouter mounts the JSON API under /api/ and the WebSocket gateway at /ws
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	r.PathPrefix("/api/").Handler(cfg.API)

	// The API router carries its own middleware
	var gateway http.Handler = cfg.Gateway
	gateway = middleware.Recovery(cfg.Logger, middleware.DefaultPanicHandler)(gateway)
	gateway = middleware.Logging(cfg.Logger)(gateway)
	r.Handle("/ws", gateway).Methods(http.MethodGet)

	return r
}
