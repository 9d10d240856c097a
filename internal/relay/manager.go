package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/relay/internal/adapter/metrics"
	"github.com/pscheid92/relay/internal/broadcast"
	"github.com/pscheid92/relay/internal/domain"
	"github.com/pscheid92/relay/internal/platform/correlation"
	apperrors "github.com/pscheid92/relay/internal/platform/errors"
)

const (
	defaultWriteTimeout   = 5 * time.Second
	defaultPongTimeout    = 60 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultStoreTimeout   = 2 * time.Second
	defaultMaxMessageSize = 4096

	shutdownReason = "server shutting down"
)

type Options struct {
	Mode domain.Mode
	// Echo delivers a client's own messages back to it.
	Echo bool
	// DefaultValue is greeted with in value mode when the store cannot be read.
	// nil means domain.DefaultValue.
	DefaultValue   *int64
	MaxMessageSize int64

	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingInterval time.Duration // must be shorter than PongTimeout
	StoreTimeout time.Duration

	// CheckOrigin rejects browser clients before the upgrade; nil allows every origin.
	CheckOrigin func(r *http.Request) bool
	// Limits applies admission limits per client IP; nil admits everyone.
	Limits *Limits
	Clock  clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = domain.ModeChat
	}
	if o.DefaultValue == nil {
		v := domain.DefaultValue
		o.DefaultValue = &v
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = defaultPongTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = defaultStoreTimeout
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// Manager owns every live WebSocket connection of the process.
type Manager struct {
	channel  *broadcast.Channel
	store    domain.ValueStore
	metrics  *metrics.RelayMetrics
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[uuid.UUID]*conn
	closing bool
	wg      sync.WaitGroup
}

// NewManager creates a Manager publishing into channel. store may be nil in chat mode.
func NewManager(channel *broadcast.Channel, store domain.ValueStore, m *metrics.RelayMetrics, opts Options) (*Manager, error) {
	opts = opts.withDefaults()
	if opts.Mode.Persists() && store == nil {
		return nil, fmt.Errorf("relay mode %q requires a value store", opts.Mode)
	}
	if opts.PingInterval >= opts.PongTimeout {
		return nil, fmt.Errorf("ping interval %s must be shorter than pong timeout %s", opts.PingInterval, opts.PongTimeout)
	}

	return &Manager{
		channel: channel,
		store:   store,
		metrics: m,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is checked in Serve so rejections get a structured response.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID]*conn),
	}, nil
}

// ServeHTTP serves a WebSocket endpoint outside of echo, using the remote address as client IP.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := m.Serve(w, r, remoteIP(r))
	if err == nil {
		return
	}

	appErr := apperrors.AsStructuredError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(appErr.ToResponse())
}

// Serve admits and upgrades r, then runs the connection until it ends.
// A non-nil error means the request was rejected before the upgrade and nothing has been
// written yet; it is an *apperrors.Error carrying the status to answer with.
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request, clientIP string) error {
	if !websocket.IsWebSocketUpgrade(r) {
		return apperrors.ValidationError("websocket upgrade required")
	}
	if m.Draining() {
		m.metrics.ConnectionsRejected.WithLabelValues("shutting_down").Inc()
		return apperrors.UnavailableError(shutdownReason)
	}
	if m.opts.CheckOrigin != nil && !m.opts.CheckOrigin(r) {
		m.metrics.ConnectionsRejected.WithLabelValues("origin").Inc()
		return apperrors.ForbiddenError("origin not allowed")
	}

	if limits := m.opts.Limits; limits != nil {
		ok, reason := limits.Acquire(clientIP)
		if !ok {
			m.metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
			slog.Warn("WebSocket connection rejected", "remote_addr", clientIP, "reason", reason)
			if reason == LimitReasonGlobal {
				return apperrors.UnavailableError("server at connection capacity").WithField("reason", string(reason))
			}
			return apperrors.RateLimitedError("too many connections").WithField("reason", string(reason))
		}
		defer limits.Release(clientIP)
	}

	ctx := r.Context()
	if _, ok := correlation.ID(ctx); !ok {
		ctx = correlation.WithID(ctx, correlation.FromRequest(r))
	}

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		m.metrics.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		slog.DebugContext(ctx, "WebSocket upgrade failed", "remote_addr", clientIP, "error", err)
		return nil
	}

	c := newConn(m, ws, clientIP)
	if !m.register(c) {
		c.closeNow(websocket.CloseGoingAway, shutdownReason)
		return nil
	}
	defer m.unregister(c)

	c.run(ctx)
	return nil
}

// ActiveConnections returns the number of connections currently running.
func (m *Manager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Subscribers returns the number of open broadcast subscriptions.
func (m *Manager) Subscribers() int {
	return m.channel.Subscribers()
}

// Shutdown stops admitting clients, sends every live connection a close frame and waits for
// all of them to finish. Connections still open when ctx ends are closed forcibly.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	slog.Info("Closing WebSocket connections", "count", len(conns))
	for _, c := range conns {
		c.requestShutdown()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for _, c := range m.conns {
			_ = c.ws.Close()
		}
		m.mu.Unlock()
		return fmt.Errorf("relay shutdown: %w", ctx.Err())
	}
}

// Draining reports whether Shutdown has been called.
func (m *Manager) Draining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

func (m *Manager) register(c *conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return false
	}
	m.conns[c.id] = c
	m.wg.Add(1)
	return true
}

func (m *Manager) unregister(c *conn) {
	m.mu.Lock()
	delete(m.conns, c.id)
	m.mu.Unlock()
	m.wg.Done()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var (
	errClientClosed  = errors.New("client closed connection")
	errShutdown      = errors.New(shutdownReason)
	errChannelClosed = errors.New("broadcast channel closed")
)
