package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/relay/internal/platform/config"
)

type testServerOption func(*testServerSettings)

type testServerSettings struct {
	relay        relayHandler
	clock        clockwork.Clock
	staticDir    string
	healthChecks []HealthCheck
	ratePerSec   float64
	burst        int
}

func withRelay(r relayHandler) testServerOption {
	return func(s *testServerSettings) { s.relay = r }
}

func withClock(c clockwork.Clock) testServerOption {
	return func(s *testServerSettings) { s.clock = c }
}

func withStaticDir(dir string) testServerOption {
	return func(s *testServerSettings) { s.staticDir = dir }
}

func withHTTPRate(ratePerSecond float64, burst int) testServerOption {
	return func(s *testServerSettings) { s.ratePerSec, s.burst = ratePerSecond, burst }
}

func withHealthChecks(checks ...HealthCheck) testServerOption {
	return func(s *testServerSettings) { s.healthChecks = checks }
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:            "development",
		Host:              "127.0.0.1",
		Port:              "0",
		WSPath:            "/ws",
		HTTPRatePerSecond: 1000,
		HTTPBurst:         1000,
	}
}

func newTestServer(t *testing.T, opts ...testServerOption) *Server {
	t.Helper()

	settings := testServerSettings{
		relay: &fakeRelay{},
		clock:      clockwork.NewFakeClock(),
		ratePerSec: 1000,
		burst:      1000,
	}
	for _, opt := range opts {
		opt(&settings)
	}

	cfg := testConfig()
	cfg.StaticDir = settings.staticDir
	cfg.HTTPRatePerSecond = settings.ratePerSec
	cfg.HTTPBurst = settings.burst
	return NewServer(cfg, settings.relay, prometheus.NewRegistry(), settings.clock, settings.healthChecks)
}

type fakeRelay struct {
	serve       func(w http.ResponseWriter, r *http.Request, clientIP string) error
	connections int
	subscribers int
	draining    bool
}

func (f *fakeRelay) Serve(w http.ResponseWriter, r *http.Request, clientIP string) error {
	if f.serve == nil {
		return nil
	}
	return f.serve(w, r, clientIP)
}

func (f *fakeRelay) ActiveConnections() int { return f.connections }
func (f *fakeRelay) Subscribers() int       { return f.subscribers }
func (f *fakeRelay) Draining() bool         { return f.draining }

func newContext(method, target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}
