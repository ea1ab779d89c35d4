/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flyedge/internal/config"
	"flyedge/internal/health"
	"flyedge/internal/logging"
)

// Server provides the operations HTTP endpoint: Prometheus metrics and,
// when a checker is supplied, health endpoints.
type Server struct {
	config   *config.MetricsConfig
	gatherer prometheus.Gatherer
	checker  *health.Checker
	logger   *logging.Logger
}

// NewServer creates a new metrics server. Either gatherer or checker may be
// nil to leave its endpoints unmounted.
func NewServer(cfg *config.MetricsConfig, gatherer prometheus.Gatherer, checker *health.Checker) *Server {
	return &Server{
		config:   cfg,
		gatherer: gatherer,
		checker:  checker,
		logger:   logging.NewLogger("metrics"),
	}
}

// Handler returns the router serving /metrics, /healthz and /readyz.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.checker != nil {
		r.Get("/healthz", s.checker.LivenessHandler())
		r.Get("/readyz", s.checker.ReadinessHandler())
	}
	return r
}

// Run serves until ctx is cancelled, then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Stopping metrics server")
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Starting metrics server", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Metrics server error", "error", err)
		return err
	}
	return nil
}
