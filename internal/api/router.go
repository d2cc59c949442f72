// Package api exposes the feed subsystem over HTTP: unit snapshots, feed
// stats and mode switching, spatial queries, the WebSocket stream, and
// Prometheus metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/akaris/globetrack/internal/controller"
	"github.com/akaris/globetrack/internal/spatial"
	"github.com/akaris/globetrack/internal/websocket"
	"github.com/akaris/globetrack/pkg/logger"
)

// Router assembles the HTTP surface.
type Router struct {
	handler  *Handler
	wsServer *websocket.Server
	metrics  http.Handler
	logger   *logger.Logger
}

// NewRouter creates the API router. metricsHandler may be nil to skip the
// /metrics endpoint.
func NewRouter(registry *controller.Registry, index *spatial.Index, wsServer *websocket.Server, metricsHandler http.Handler, log *logger.Logger) *Router {
	return &Router{
		handler:  NewHandler(registry, index, log),
		wsServer: wsServer,
		metrics:  metricsHandler,
		logger:   log.Named("api-router"),
	}
}

// Routes builds the chi route tree.
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", rt.handler.Health)
		r.Get("/units/{kind}", rt.handler.GetUnits)
		r.Get("/feeds", rt.handler.GetFeeds)
		r.Put("/feeds/{kind}/mode", rt.handler.SetFeedMode)
		r.Post("/spatial/visible", rt.handler.QueryVisible)
		r.Post("/spatial/density", rt.handler.QueryDensity)
	})

	r.Get("/ws", rt.wsServer.HandleConnection)

	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics)
	}

	return r
}
