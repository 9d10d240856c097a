package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_AllMetricStructsRegisterWithoutConflict(t *testing.T) {
	reg := NewRegistry()

	require.NotPanics(t, func() {
		NewRelayMetrics(reg)
		NewStoreMetrics(reg)
		NewDatabaseMetrics(reg)
		NewRedisMetrics(reg)
		NewHTTPMetrics(reg)
	})

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRelayMetrics_Counters(t *testing.T) {
	m := NewRelayMetrics(prometheus.NewRegistry())

	m.ConnectionsRejected.WithLabelValues("per_ip").Inc()
	m.ConnectionsRejected.WithLabelValues("per_ip").Inc()
	m.MessagesReceived.WithLabelValues("accepted").Inc()
	m.LaggedMessages.Add(3)

	assert.InDelta(t, 2, testutil.ToFloat64(m.ConnectionsRejected.WithLabelValues("per_ip")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("accepted")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.LaggedMessages), 0)
}

type fakeChannel struct {
	subs, length, capacity int
	dropped                uint64
}

func (f fakeChannel) Subscribers() int { return f.subs }
func (f fakeChannel) Len() int         { return f.length }
func (f fakeChannel) Cap() int         { return f.capacity }
func (f fakeChannel) Dropped() uint64  { return f.dropped }

func TestRegisterChannelStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterChannelStats(reg, fakeChannel{subs: 3, length: 7, capacity: 10, dropped: 2})

	expected := `
# HELP relay_broadcast_subscribers Number of open broadcast subscriptions.
# TYPE relay_broadcast_subscribers gauge
relay_broadcast_subscribers 3
# HELP relay_broadcast_dropped_no_subscribers_total Total number of messages published while nobody was subscribed.
# TYPE relay_broadcast_dropped_no_subscribers_total counter
relay_broadcast_dropped_no_subscribers_total 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"relay_broadcast_subscribers", "relay_broadcast_dropped_no_subscribers_total")
	require.NoError(t, err)
}

func TestHTTPMetrics_RecordsRouteAndStatusClass(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())

	e := echo.New()
	e.Use(m.Middleware(func(c echo.Context) bool {
		return strings.HasPrefix(c.Path(), "/health/") || c.IsWebSocket()
	}))
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	e.GET("/version", ok)
	e.GET("/health/live", ok)
	e.GET("/ws", ok)

	for _, path := range []string{"/version", "/version", "/health/live"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	wsReq := httptest.NewRequest(http.MethodGet, "/ws", nil)
	wsReq.Header.Set("Upgrade", "websocket")
	e.ServeHTTP(httptest.NewRecorder(), wsReq)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Requests.WithLabelValues("/version", "GET", "2xx")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Requests))
	assert.InDelta(t, 0, testutil.ToFloat64(m.InFlight), 0)
}

func TestHTTPMetrics_NilSkipperRecordsEverything(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())

	e := echo.New()
	e.Use(m.Middleware(nil))
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusServiceUnavailable) })

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.InDelta(t, 1, testutil.ToFloat64(m.Requests.WithLabelValues("/health/live", "GET", "5xx")), 0)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusNoContent))
	assert.Equal(t, "4xx", statusClass(http.StatusTooManyRequests))
	assert.Equal(t, "unknown", statusClass(0))
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := NewRegistry()
	NewRelayMetrics(reg).ActiveConnections.Set(4)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "relay_websocket_active_connections 4")
	assert.Contains(t, body, "relay_build_info{")
	assert.Contains(t, body, "promhttp_metric_handler_requests_total")
}
