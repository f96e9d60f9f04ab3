// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ripplenami/odksync/internal/config"
	"github.com/ripplenami/odksync/internal/logging"
	"github.com/ripplenami/odksync/internal/models"
)

// StatsSource serves the sync statistics view. *database.DB implements it.
type StatsSource interface {
	Statistics(ctx context.Context) (*models.SyncStatistics, error)
}

// Trigger requests an immediate sync cycle. *sync.Manager implements it.
type Trigger interface {
	TriggerSync() bool
}

// HealthChecker verifies a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server is the operational HTTP surface: health, sync status, manual
// trigger, and Prometheus metrics. It carries no form data; the sync
// pipeline owns that.
type Server struct {
	cfg     config.ServerConfig
	stats   StatsSource
	trigger Trigger
	db      HealthChecker

	http *http.Server
}

// NewServer wires the ops endpoints onto a chi router.
func NewServer(cfg config.ServerConfig, stats StatsSource, trigger Trigger, db HealthChecker) *Server {
	s := &Server{cfg: cfg, stats: stats, trigger: trigger, db: db}
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Timeout,
		WriteTimeout:      cfg.Timeout,
		IdleTimeout:       2 * cfg.Timeout,
	}
	return s
}

// Router builds the route tree. Exposed separately so tests can drive the
// handlers without binding a socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogging)
	r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Get("/status", s.handleSyncStatus)
		r.Post("/trigger", s.handleSyncTrigger)
	})

	return r
}

// Serve runs the HTTP server until ctx is cancelled. Implements
// suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.http.Addr).Msg("Ops server listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("Ops server shutdown incomplete")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	}
}

// String identifies the service in supervisor logs.
func (s *Server) String() string {
	return fmt.Sprintf("ops-server(%s)", s.http.Addr)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Statistics(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Cannot assemble sync statistics")
		writeError(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if s.trigger.TriggerSync() {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
		return
	}
	writeJSON(w, http.StatusConflict, map[string]string{"status": "already queued"})
}
