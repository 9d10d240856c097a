package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func decodeReport(t *testing.T, body []byte) relayReport {
	t.Helper()
	var report relayReport
	require.NoError(t, json.Unmarshal(body, &report))
	return report
}

func TestHandleStartup(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/health/startup")
	srv := newTestServer(t, withHealthChecks(HealthCheck{Name: "store", Check: healthOK}))

	err := srv.handleStartup(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","connections":0,"subscribers":0,"checks":{"store":"ok"}}`, rec.Body.String())
}

func TestHandleReadiness_ReportsRelayCounts(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/health/ready")
	srv := newTestServer(t, withRelay(&fakeRelay{connections: 3, subscribers: 2}))

	require.NoError(t, srv.handleReadiness(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	report := decodeReport(t, rec.Body.Bytes())
	assert.Equal(t, statusReady, report.Status)
	assert.Equal(t, 3, report.Connections)
	assert.Equal(t, 2, report.Subscribers)
	assert.Empty(t, report.Checks)
}

func TestHandleReadiness_StoreDown(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/health/ready")
	srv := newTestServer(t, withHealthChecks(
		HealthCheck{Name: "store", Check: healthErr("connection refused")},
		HealthCheck{Name: "cache", Check: healthOK},
	))

	err := srv.handleReadiness(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	report := decodeReport(t, rec.Body.Bytes())
	assert.Equal(t, statusUnhealthy, report.Status)
	assert.Equal(t, map[string]string{"store": "connection refused", "cache": "ok"}, report.Checks)
}

func TestHandleReadiness_DrainingSkipsChecks(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/health/ready")
	var called bool
	srv := newTestServer(t,
		withRelay(&fakeRelay{connections: 5, subscribers: 5, draining: true}),
		withHealthChecks(HealthCheck{Name: "store", Check: func(context.Context) error {
			called = true
			return nil
		}}),
	)

	require.NoError(t, srv.handleReadiness(c))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	report := decodeReport(t, rec.Body.Bytes())
	assert.Equal(t, statusDraining, report.Status)
	assert.Equal(t, 5, report.Connections)
	assert.False(t, called)
}

func TestHandleReadiness_ChecksGetDeadline(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/health/ready")
	var hasDeadline bool
	srv := newTestServer(t, withHealthChecks(HealthCheck{Name: "store", Check: func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	}}))

	require.NoError(t, srv.handleReadiness(c))
	assert.True(t, hasDeadline)
}

func TestHandleLiveness(t *testing.T) {
	clock := clockwork.NewFakeClock()
	srv := newTestServer(t, withClock(clock), withRelay(&fakeRelay{connections: 7, draining: true}))
	clock.Advance(90 * time.Second)

	c, rec := newContext(http.MethodGet, "/health/live")
	require.NoError(t, srv.handleLiveness(c))
	assert.Equal(t, http.StatusOK, rec.Code, "liveness stays up while draining")

	var body struct {
		Status      string  `json:"status"`
		Uptime      float64 `json:"uptime"`
		Connections int     `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.InDelta(t, 90.0, body.Uptime, 0.001)
	assert.Equal(t, 7, body.Connections)
}

func TestHandleVersion(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/version")
	srv := newTestServer(t)

	require.NoError(t, srv.handleVersion(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"version"`)
	assert.Contains(t, body, `"commit"`)
	assert.Contains(t, body, `"go_version"`)
}
