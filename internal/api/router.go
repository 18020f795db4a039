// Package api serves the admin HTTP surface: login, read endpoints, RCON
// passthrough, the live event feed and Prometheus metrics.
package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/auth"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/storage"
)

// RconExecutor is the command surface the RCON passthrough uses.
type RconExecutor interface {
	Execute(ctx context.Context, serverID int64, command string) (string, error)
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux   *http.ServeMux
	store *storage.Store
	auth  *auth.Service
	rcon  RconExecutor
	wsHub *WebSocketHub
}

// NewRouter creates a new HTTP router
func NewRouter(store *storage.Store, authService *auth.Service, rcon RconExecutor) *Router {
	r := &Router{
		mux:   http.NewServeMux(),
		store: store,
		auth:  authService,
		rcon:  rcon,
		wsHub: NewWebSocketHub(),
	}

	r.mux.HandleFunc("POST /api/login", r.handleLogin)

	r.mux.HandleFunc("GET /api/servers", r.requireAuth(r.handleListServers))
	r.mux.HandleFunc("GET /api/servers/{id}", r.requireAuth(r.handleGetServer))
	r.mux.HandleFunc("POST /api/servers/{id}/rcon", r.requireAuth(r.handleRconCommand))

	r.mux.HandleFunc("GET /api/players", r.handleTopPlayers)
	r.mux.HandleFunc("GET /api/players/{id}", r.handleGetPlayer)
	r.mux.HandleFunc("GET /api/players/{id}/history", r.handleGetPlayerHistory)

	r.mux.HandleFunc("GET /ws/events", r.handleWebSocket)

	r.mux.Handle("GET /metrics", promhttp.Handler())
	r.mux.HandleFunc("GET /healthz", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Hub exposes the WebSocket hub so the event bus can feed it.
func (r *Router) Hub() *WebSocketHub {
	return r.wsHub
}

// StartHub launches the hub loop.
func (r *Router) StartHub() {
	go r.wsHub.Run()
}
