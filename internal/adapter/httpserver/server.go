// Package httpserver exposes the relay endpoint, health probes, build info and metrics over echo.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/relay/internal/adapter/metrics"
	"github.com/pscheid92/relay/internal/platform/config"
)

// relayHandler admits and runs WebSocket connections and reports on them for the
// health probes; see relay.Manager.
type relayHandler interface {
	Serve(w http.ResponseWriter, r *http.Request, clientIP string) error
	ActiveConnections() int
	Subscribers() int
	Draining() bool
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	relay        relayHandler
	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck

	clock     clockwork.Clock
	startTime time.Time
}

func NewServer(cfg *config.Config, relay relayHandler, registry *prometheus.Registry, clock clockwork.Clock, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// X-Forwarded-For is honoured only from loopback and private-range proxies.
	e.IPExtractor = echo.ExtractIPFromXFFHeader()

	srv := &Server{
		echo:         e,
		config:       cfg,
		relay:        relay,
		registry:     registry,
		httpMetrics:  metrics.NewHTTPMetrics(registry),
		healthChecks: healthChecks,
		clock:        clock,
		startTime:    clock.Now(),
	}

	e.HTTPErrorHandler = srv.handleHTTPError
	srv.registerRoutes()

	return srv
}

// Start blocks until the server stops. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	slog.Info("Starting server", "addr", s.config.Addr(), "ws_path", s.config.WSPath)
	if err := s.echo.Start(s.config.Addr()); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests. Hijacked WebSocket connections are not tracked by
// net/http, so the relay must be shut down separately.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.echo
}
