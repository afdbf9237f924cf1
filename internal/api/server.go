// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api serves the operational surface: health probes, the latest
// cycle report and prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arrbiter/arrbiter/internal/config"
	"github.com/arrbiter/arrbiter/internal/engine"
	"github.com/arrbiter/arrbiter/internal/metrics"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	engine   *engine.Engine
	recorder *metrics.Recorder
}

type Dependencies struct {
	Config   *config.AppConfig
	Version  string
	Engine   *engine.Engine
	Recorder *metrics.Recorder
}

func NewServer(deps *Dependencies) *Server {
	return &Server{
		server: &http.Server{
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:   log.Logger.With().Str("module", "api").Logger(),
		config:   deps.Config,
		version:  deps.Version,
		engine:   deps.Engine,
		recorder: deps.Recorder,
	}
}

func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto)
		if err == nil {
			return nil
		}
		if errors.Is(err, http.ErrServerClosed) {
			return err
		}
		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msg("Failed to start server")
		lastErr = err
	}
	return lastErr
}

func (s *Server) tryToServe(addr, protocol string) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Msg("Starting API server")

	s.server.Handler = s.Handler()
	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	if s.config.Config.MetricsEnabled && s.recorder != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.recorder.Registry(), promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStatus returns the latest cycle report, or 204 before the first
// cycle completes.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	report := s.engine.LastReport()
	if report == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode status response")
	}
}
