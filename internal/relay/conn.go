package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pscheid92/relay/internal/broadcast"
	"github.com/pscheid92/relay/internal/domain"
	"golang.org/x/sync/errgroup"
)

type conn struct {
	id  uuid.UUID
	ip  string
	ws  *websocket.Conn
	m   *Manager
	log *slog.Logger

	outbox       chan broadcast.Message
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func newConn(m *Manager, ws *websocket.Conn, ip string) *conn {
	id := uuid.New()
	return &conn{
		id:       id,
		ip:       ip,
		ws:       ws,
		m:        m,
		log:      slog.With("conn_id", id.String(), "remote_addr", ip),
		outbox:   make(chan broadcast.Message),
		shutdown: make(chan struct{}),
	}
}

func (c *conn) run(ctx context.Context) {
	clock := c.m.opts.Clock
	connectedAt := clock.Now()
	c.m.metrics.ConnectionsTotal.Inc()
	c.m.metrics.ActiveConnections.Inc()
	defer func() {
		c.m.metrics.ActiveConnections.Dec()
		c.m.metrics.ConnectionDuration.Observe(clock.Since(connectedAt).Seconds())
	}()

	// Subscribe before the greeting so nothing published in between is missed.
	sub := c.m.channel.Subscribe()
	defer sub.Close()

	greeting := c.greeting(ctx)
	c.recordSeen(ctx)
	c.log.InfoContext(ctx, "Client connected", "mode", c.m.opts.Mode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.receiveLoop(gctx, sub) })
	g.Go(func() error { return c.writeLoop(gctx, greeting) })
	err := g.Wait()

	switch {
	case errors.Is(err, errClientClosed), errors.Is(err, errShutdown), errors.Is(err, errChannelClosed):
		c.log.InfoContext(ctx, "Client disconnected", "reason", err.Error(), "duration", clock.Since(connectedAt))
	default:
		c.log.InfoContext(ctx, "Client connection ended", "error", err, "duration", clock.Since(connectedAt))
	}
}

// greeting returns the Last-Value Record for value mode, or "" when nothing is sent on connect.
func (c *conn) greeting(ctx context.Context) string {
	if !c.m.opts.Mode.Persists() {
		return ""
	}

	storeCtx, cancel := context.WithTimeout(ctx, c.m.opts.StoreTimeout)
	defer cancel()

	value, err := c.m.store.LastValue(storeCtx)
	if err != nil {
		c.log.WarnContext(ctx, "Failed to load last value, greeting with default", "error", err)
		value = *c.m.opts.DefaultValue
	}
	return domain.FormatValue(value)
}

func (c *conn) recordSeen(ctx context.Context) {
	if c.m.store == nil {
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, c.m.opts.StoreTimeout)
	defer cancel()

	if err := c.m.store.RecordClientSeen(storeCtx, c.id.String()); err != nil {
		c.log.DebugContext(ctx, "Failed to record client", "error", err)
	}
}

func (c *conn) readLoop(ctx context.Context) error {
	c.ws.SetReadLimit(c.m.opts.MaxMessageSize)
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return errClientClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		c.extendReadDeadline()

		if messageType != websocket.TextMessage {
			c.m.metrics.MessagesReceived.WithLabelValues("ignored").Inc()
			continue
		}
		c.handleText(ctx, string(data))
	}
}

func (c *conn) handleText(ctx context.Context, payload string) {
	out := payload

	if c.m.opts.Mode == domain.ModeValue {
		value, err := domain.ParseValue(payload)
		if err != nil {
			c.m.metrics.MessagesReceived.WithLabelValues("invalid").Inc()
			c.log.DebugContext(ctx, "Dropped non-integer payload", "error", err)
			return
		}
		c.persist(ctx, value)
		out = domain.FormatValue(value)
	}

	c.m.metrics.MessagesReceived.WithLabelValues("accepted").Inc()
	receivers := c.m.channel.Publish(out, c.id)
	c.m.metrics.MessagesPublished.Inc()
	c.log.DebugContext(ctx, "Message published", "receivers", receivers)
}

// persist writes an accepted value. It outlives the connection's cancellation so a value that
// is about to be broadcast is not half-handled when the client disconnects.
func (c *conn) persist(ctx context.Context, value int64) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.m.opts.StoreTimeout)
	defer cancel()

	if err := c.m.store.AppendValue(storeCtx, value); err != nil {
		c.log.WarnContext(ctx, "Failed to persist value", "value", value, "error", err)
	}
}

// receiveLoop drains the subscription into the outbox. Lag is reported and skipped over.
func (c *conn) receiveLoop(ctx context.Context, sub *broadcast.Subscription) error {
	for {
		msg, err := sub.Recv(ctx)

		var lagged *broadcast.LaggedError
		switch {
		case errors.As(err, &lagged):
			c.m.metrics.LagEvents.Inc()
			c.m.metrics.LaggedMessages.Add(float64(lagged.Skipped))
			c.log.WarnContext(ctx, "Client lagged behind broadcast", "skipped", lagged.Skipped)
			continue
		case errors.Is(err, broadcast.ErrClosed):
			return errChannelClosed
		case err != nil:
			return err
		}

		if !c.m.opts.Echo && msg.Origin == c.id {
			continue
		}

		select {
		case c.outbox <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *conn) writeLoop(ctx context.Context, greeting string) error {
	defer c.ws.Close()

	ticker := c.m.opts.Clock.NewTicker(c.m.opts.PingInterval)
	defer ticker.Stop()

	if greeting != "" {
		if err := c.write(websocket.TextMessage, []byte(greeting)); err != nil {
			return fmt.Errorf("write greeting: %w", err)
		}
	}

	for {
		select {
		case msg := <-c.outbox:
			if err := c.write(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return fmt.Errorf("write message: %w", err)
			}
			c.m.metrics.MessagesDelivered.Inc()
		case <-ticker.Chan():
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		case <-c.shutdown:
			c.writeClose(websocket.CloseGoingAway, shutdownReason)
			return errShutdown
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *conn) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(c.m.opts.Clock.Now().Add(c.m.opts.WriteTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *conn) writeClose(code int, reason string) {
	_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// closeNow is used for connections that never started their loops.
func (c *conn) closeNow(code int, reason string) {
	c.writeClose(code, reason)
	_ = c.ws.Close()
}

func (c *conn) requestShutdown() {
	c.shutdownOnce.Do(func() { close(c.shutdown) })
}

func (c *conn) extendReadDeadline() {
	_ = c.ws.SetReadDeadline(c.m.opts.Clock.Now().Add(c.m.opts.PongTimeout))
}
