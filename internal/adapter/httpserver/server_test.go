package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/relay/internal/adapter/memory"
	"github.com/pscheid92/relay/internal/adapter/metrics"
	"github.com/pscheid92/relay/internal/broadcast"
	"github.com/pscheid92/relay/internal/domain"
	"github.com/pscheid92/relay/internal/platform/correlation"
	apperrors "github.com/pscheid92/relay/internal/platform/errors"
	"github.com/pscheid92/relay/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_UnknownRouteIsStructured404(t *testing.T) {
	srv := newTestServer(t)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.TypeNotFound, resp.Type)
	assert.NotEmpty(t, rec.Header().Get(correlation.Header))
}

func TestServer_SecurityHeaders(t *testing.T) {
	srv := newTestServer(t)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "connect-src 'self' ws: wss:")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_ = serve(srv, httptest.NewRequest(http.MethodGet, "/version", nil))
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `relay_http_requests_total{class="2xx",method="GET",route="/version"} 1`)
}

func TestServer_WebSocketRejectionIsStructured(t *testing.T) {
	var gotIP string
	srv := newTestServer(t, withRelay(&fakeRelay{serve: func(_ http.ResponseWriter, _ *http.Request, clientIP string) error {
		gotIP = clientIP
		return apperrors.RateLimitedError("too many connections").WithField("reason", "per_ip_limit")
	}}))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.5:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := serve(srv, req)

	assert.Equal(t, "203.0.113.9", gotIP)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "per_ip_limit", resp.Context["reason"])
}

func TestServer_ClientIPIgnoresUntrustedForwardedFor(t *testing.T) {
	var gotIP string
	srv := newTestServer(t, withRelay(&fakeRelay{serve: func(_ http.ResponseWriter, _ *http.Request, clientIP string) error {
		gotIP = clientIP
		return apperrors.ValidationError("websocket upgrade required")
	}}))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := serve(srv, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "198.51.100.7", gotIP)
}

func TestServer_StaticDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>relay</h1>"), 0o600))
	srv := newTestServer(t, withStaticDir(dir))

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/index.html", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>relay</h1>")
}

func TestServer_RelaysThroughEcho(t *testing.T) {
	ch, err := broadcast.New(16)
	require.NoError(t, err)
	t.Cleanup(ch.Close)

	store := memory.NewValueStore(domain.DefaultValue, 0, clockwork.NewRealClock())
	manager, err := relay.NewManager(ch, store, metrics.NewRelayMetrics(prometheus.NewRegistry()), relay.Options{Mode: domain.ModeValue, Echo: true})
	require.NoError(t, err)

	srv := newTestServer(t, withRelay(manager))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		ts.Close()
	})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, greeting, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "50", string(greeting))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("75")))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "75", string(msg))

	last, err := store.LastValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(75), last)
}
