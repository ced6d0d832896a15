// Package server wires HTTP handlers into a chi router for the realtime
// service.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// WebSocketRoute is the subscription endpoint pattern.
const WebSocketRoute = "/ws/workspaces/{workspaceID}/channels/{channelID}"

// SetupRoutes configures and returns the router with all application routes.
// metrics and publisher may be nil, in which case their routes are not mounted.
func SetupRoutes(h *Handler, publisher *Publisher, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", HealthHandler)
	r.Get("/test", TestPageHandler)
	r.With(requireUpgrade).Get(WebSocketRoute, h.ServeWebSocket)
	if publisher != nil {
		r.Method(http.MethodPost, PublishRoute, publisher)
	}
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}
