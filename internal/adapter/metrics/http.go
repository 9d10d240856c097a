package metrics

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatchedRoute = "unmatched"

// HTTPMetrics covers the plain HTTP surface (version, static assets, error pages).
// WebSocket traffic is accounted for by RelayMetrics.
type HTTPMetrics struct {
	Requests    *prometheus.CounterVec   // route, method, class
	Latency     *prometheus.HistogramVec // route
	InFlight    prometheus.Gauge
	RateLimited *prometheus.CounterVec // route
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of plain HTTP requests, by route, method and status class.",
		}, []string{"route", "method", "class"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of plain HTTP requests in seconds.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		}, []string{"route"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of plain HTTP requests currently being processed.",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of HTTP requests refused by the per-IP rate limiter, by route.",
		}, []string{"route"}),
	}

	reg.MustRegister(m.Requests, m.Latency, m.InFlight, m.RateLimited)
	return m
}

// Middleware records every request the skipper lets through. A nil skipper records
// everything; the server skips scrapes, probes and WebSocket upgrades.
func (m *HTTPMetrics) Middleware(skipper middleware.Skipper) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = middleware.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}

			m.InFlight.Inc()
			defer m.InFlight.Dec()

			route := Route(c)
			timer := prometheus.NewTimer(m.Latency.WithLabelValues(route))
			err := next(c)
			timer.ObserveDuration()

			m.Requests.WithLabelValues(route, c.Request().Method, statusClass(c.Response().Status)).Inc()
			return err
		}
	}
}

// Route is the registered route of c, so that label cardinality stays bounded.
func Route(c echo.Context) string {
	if path := c.Path(); path != "" {
		return path
	}
	return unmatchedRoute
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
