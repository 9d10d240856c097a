package httpserver

import (
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/relay/internal/adapter/metrics"
	apperrors "github.com/pscheid92/relay/internal/platform/errors"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter limits plain HTTP routes per client IP. WebSocket admission has its own limits.
// Refusals are written here because echo's limiter only hands DenyHandler errors to c.Error.
func newRateLimiter(ratePerSecond float64, burst int, refused *prometheus.CounterVec) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	retryAfter := retryAfterSeconds(ratePerSecond)

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			refused.WithLabelValues(metrics.Route(c)).Inc()
			c.Response().Header().Set("Retry-After", retryAfter)
			return HandleError(c, apperrors.RateLimitedError("rate limit exceeded").
				WithField("reason", "http_rate_limit"))
		},
	})
}

// retryAfterSeconds is how long one token takes to refill, rounded up to whole seconds.
func retryAfterSeconds(ratePerSecond float64) string {
	if ratePerSecond <= 0 {
		return "60"
	}
	return strconv.Itoa(int(math.Max(1, math.Ceil(1/ratePerSecond))))
}
