package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/relay/internal/platform/correlation"
)

const DefaultStatsInterval = time.Minute

type ChannelStats interface {
	Subscribers() int
	Len() int
	Dropped() uint64
}

type ConnectionCounter interface {
	ActiveConnections() int
}

type Stats struct {
	Connections int
	Subscribers int
	Buffered    int
	Dropped     uint64
}

// StatsTicker periodically logs relay occupancy. An idle relay whose numbers did not change
// since the previous tick is not logged again.
type StatsTicker struct {
	channel  ChannelStats
	conns    ConnectionCounter
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger

	last Stats
}

func NewStatsTicker(channel ChannelStats, conns ConnectionCounter, clock clockwork.Clock, interval time.Duration, logger *slog.Logger) *StatsTicker {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	return &StatsTicker{
		channel:  channel,
		conns:    conns,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled.
func (t *StatsTicker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.tick(ctx)
		}
	}
}

func (t *StatsTicker) Snapshot() Stats {
	return Stats{
		Connections: t.conns.ActiveConnections(),
		Subscribers: t.channel.Subscribers(),
		Buffered:    t.channel.Len(),
		Dropped:     t.channel.Dropped(),
	}
}

func (t *StatsTicker) tick(ctx context.Context) {
	stats := t.Snapshot()
	if stats == t.last && stats.Connections == 0 {
		return
	}
	t.last = stats

	tickCtx := correlation.WithID(ctx, correlation.NewID())
	t.logger.InfoContext(tickCtx, "Relay stats",
		"connections", stats.Connections,
		"subscribers", stats.Subscribers,
		"buffered", stats.Buffered,
		"dropped_no_subscribers", stats.Dropped,
	)
}
