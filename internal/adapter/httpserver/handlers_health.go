package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/relay/internal/platform/version"
)

const (
	startupCheckTimeout   = 2 * time.Second
	readinessCheckTimeout = 5 * time.Second

	statusReady     = "ready"
	statusUnhealthy = "unhealthy"
	statusDraining  = "draining"
	checkPassed     = "ok"
)

// HealthCheck is a named dependency check run by the startup and readiness probes.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// relayReport is the body of the startup and readiness probes.
type relayReport struct {
	Status      string            `json:"status"`
	Connections int               `json:"connections"`
	Subscribers int               `json:"subscribers"`
	Checks      map[string]string `json:"checks,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupCheckTimeout)
	defer cancel()

	return s.writeReport(c, s.checkDependencies(ctx))
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status":      "ok",
		"uptime":      s.clock.Since(s.startTime).Seconds(),
		"connections": s.relay.ActiveConnections(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// handleReadiness fails while the relay drains, so that new upgrades go elsewhere
// before the remaining clients are closed.
func (s *Server) handleReadiness(c echo.Context) error {
	if s.relay.Draining() {
		return s.writeReport(c, s.newReport(statusDraining))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessCheckTimeout)
	defer cancel()

	return s.writeReport(c, s.checkDependencies(ctx))
}

// checkDependencies runs every check, so a single probe shows all failing dependencies.
func (s *Server) checkDependencies(ctx context.Context) relayReport {
	report := s.newReport(statusReady)
	if len(s.healthChecks) == 0 {
		return report
	}

	report.Checks = make(map[string]string, len(s.healthChecks))
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			report.Checks[hc.Name] = err.Error()
			report.Status = statusUnhealthy
			continue
		}
		report.Checks[hc.Name] = checkPassed
	}
	return report
}

func (s *Server) newReport(status string) relayReport {
	return relayReport{
		Status:      status,
		Connections: s.relay.ActiveConnections(),
		Subscribers: s.relay.Subscribers(),
	}
}

func (s *Server) writeReport(c echo.Context, report relayReport) error {
	code := http.StatusOK
	if report.Status != statusReady {
		code = http.StatusServiceUnavailable
	}
	if err := c.JSON(code, report); err != nil {
		return fmt.Errorf("failed to write health response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
