package metrics

import "github.com/prometheus/client_golang/prometheus"

// StoreMetrics holds Prometheus metrics for value store calls made by the relay.
type StoreMetrics struct {
	OperationsTotal     *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	CircuitState        *prometheus.GaugeVec
	CircuitStateChanges *prometheus.CounterVec
	LastValueShared     prometheus.Counter
}

// NewStoreMetrics creates and registers store metrics on the given registry.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of value store operations, by operation and status.",
		}, []string{"operation", "status"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of value store operations in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		}, []string{"operation"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open), by component.",
		}, []string{"component"}),
		CircuitStateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state_changes_total",
			Help:      "Total number of circuit breaker state transitions, by component and new state.",
		}, []string{"component", "state"}),
		LastValueShared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "last_value_shared_total",
			Help:      "Total number of last-value lookups answered by an in-flight call.",
		}),
	}

	reg.MustRegister(m.OperationsTotal, m.OperationDuration, m.CircuitState, m.CircuitStateChanges, m.LastValueShared)
	return m
}
