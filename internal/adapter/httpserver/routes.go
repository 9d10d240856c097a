package httpserver

import (
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/relay/internal/adapter/metrics"
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.httpMetrics.Middleware(s.skipHTTPMetrics))
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		HSTSPreloadEnabled: true,
		ContentSecurityPolicy: "default-src 'self'; " +
			"connect-src 'self' ws: wss:; " +
			"script-src 'self' 'unsafe-inline'; " +
			"style-src 'self' 'unsafe-inline'; " +
			"frame-ancestors 'none'",
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}))

	s.echo.GET(s.config.WSPath, s.handleWebSocket)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))
	s.registerHealthRoutes()

	limited := s.echo.Group("", newRateLimiter(s.config.HTTPRatePerSecond, s.config.HTTPBurst, s.httpMetrics.RateLimited))
	limited.GET("/version", s.handleVersion)
	if s.config.StaticDir != "" {
		limited.Static("/", s.config.StaticDir)
	}
}

// skipHTTPMetrics leaves out scrapes, probes and upgrades. An upgrade's duration is the
// connection lifetime, which RelayMetrics already records.
func (s *Server) skipHTTPMetrics(c echo.Context) bool {
	path := c.Path()
	return path == "/metrics" || strings.HasPrefix(path, "/health/") || path == s.config.WSPath || c.IsWebSocket()
}

// handleWebSocket hands the request to the relay. Rejections come back as structured
// errors before anything is written; once upgraded the relay owns the connection.
func (s *Server) handleWebSocket(c echo.Context) error {
	return s.relay.Serve(c.Response(), c.Request(), c.RealIP())
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health/live"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
