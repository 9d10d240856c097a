package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics holds Prometheus metrics for the WebSocket connection manager.
type RelayMetrics struct {
	ActiveConnections   prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	ConnectionsRejected *prometheus.CounterVec
	MessagesReceived    *prometheus.CounterVec
	MessagesPublished   prometheus.Counter
	MessagesDelivered   prometheus.Counter
	LagEvents           prometheus.Counter
	LaggedMessages      prometheus.Counter
	ConnectionDuration  prometheus.Histogram
}

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_total",
			Help:      "Total number of accepted WebSocket connections.",
		}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Total number of rejected WebSocket upgrades, by reason.",
		}, []string{"reason"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_received_total",
			Help:      "Total number of inbound frames, by result.",
		}, []string{"result"}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to the broadcast channel.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_delivered_total",
			Help:      "Total number of messages written to clients.",
		}),
		LagEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "lag_events_total",
			Help:      "Total number of times a subscriber fell behind the broadcast buffer.",
		}),
		LaggedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "lagged_messages_total",
			Help:      "Total number of messages skipped for lagging subscribers.",
		}),
		ConnectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of WebSocket connections in seconds.",
			Buckets:   []float64{1, 10, 60, 300, 1800, 3600, 14400},
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ConnectionsTotal,
		m.ConnectionsRejected,
		m.MessagesReceived,
		m.MessagesPublished,
		m.MessagesDelivered,
		m.LagEvents,
		m.LaggedMessages,
		m.ConnectionDuration,
	)
	return m
}

// ChannelStats is the read-only view of the broadcast channel exported as metrics.
type ChannelStats interface {
	Subscribers() int
	Len() int
	Cap() int
	Dropped() uint64
}

// RegisterChannelStats exposes the broadcast channel's occupancy as scrape-time gauges.
func RegisterChannelStats(reg prometheus.Registerer, ch ChannelStats) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Number of open broadcast subscriptions.",
		}, func() float64 { return float64(ch.Subscribers()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "buffered_messages",
			Help:      "Number of messages currently held in the broadcast ring.",
		}, func() float64 { return float64(ch.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "capacity",
			Help:      "Capacity of the broadcast ring.",
		}, func() float64 { return float64(ch.Cap()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "dropped_no_subscribers_total",
			Help:      "Total number of messages published while nobody was subscribed.",
		}, func() float64 { return float64(ch.Dropped()) }),
	)
}
