// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the reconciliation daemon:
// session management, the gateway webhook, health probes and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kinoseat/paywatch/internal/config"
	"github.com/kinoseat/paywatch/internal/health"
	"github.com/kinoseat/paywatch/internal/log"
	"github.com/kinoseat/paywatch/internal/push"
	"github.com/kinoseat/paywatch/internal/session"
)

// Server holds the handler dependencies.
type Server struct {
	holder   *config.Holder
	sessions *session.Manager
	feed     push.Feed
	health   *health.Manager
	logger   zerolog.Logger
}

// NewServer creates the API server.
func NewServer(holder *config.Holder, sessions *session.Manager, feed push.Feed, healthMgr *health.Manager) *Server {
	return &Server{
		holder:   holder,
		sessions: sessions,
		feed:     feed,
		health:   healthMgr,
		logger:   log.WithComponent("api"),
	}
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	cfg := s.holder.Get()

	r := chi.NewRouter()
	r.Use(recoverer(s.logger))
	r.Use(requestID)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReadiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleOpenSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleCloseSession)

		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(
				cfg.WebhookRateLimit,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))
			r.Post("/payments/events", s.handlePaymentWebhook)
		})
	})

	return otelhttp.NewHandler(r, "paywatch.api")
}
