package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hostping/hostping/internal/eventbus"
	"github.com/hostping/hostping/internal/globals"
	"github.com/hostping/hostping/internal/hosts"
	"github.com/hostping/hostping/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the collaborators shared by the handlers.
type Dependencies struct {
	Bus    *eventbus.Bus
	Hosts  hosts.Store
	Runner Runner
	Logger *slog.Logger
}

// NewRouter creates and configures the API router
func NewRouter(deps Dependencies) http.Handler {
	cfg := globals.GetConfig()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics)

	// CORS (if enabled)
	if cfg.CORS.Enabled {
		r.Use(middleware.CORS(
			cfg.CORS.AllowedOrigins,
			cfg.CORS.AllowedMethods,
			cfg.CORS.AllowedHeaders,
			cfg.CORS.MaxAgeSeconds,
		))
	}

	// Initialize handlers
	healthHandler := NewHealthHandler(deps.Bus, deps.Hosts)
	hostsHandler := NewHostsHandler(deps.Hosts, logger)
	probeHandler := NewProbeHandler(deps.Hosts, deps.Runner, deps.Bus, HeartbeatSettings{
		Interval: cfg.Heartbeat.Interval(),
		Count:    cfg.Heartbeat.Count,
	}, logger)
	streamHandler := NewStreamHandler(deps.Bus, cfg.Channel.KeepaliveInterval(), logger)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/hosts", hostsHandler.List)
		r.Post("/hosts", hostsHandler.Replace)
		r.Post("/ping", probeHandler.Ping)
		r.Get("/check", probeHandler.Check)
		r.Post("/check", probeHandler.Check)
	})

	r.Get("/sse", streamHandler.SSE)
	r.Get("/ws", streamHandler.WS)

	if cfg.Server.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.Server.StaticDir)))
	}

	return r
}
