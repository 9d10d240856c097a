package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/relay/internal/adapter/metrics"
)

// MetricsTracer implements pgx.QueryTracer, recording duration and errors per statement kind.
type MetricsTracer struct {
	metrics *metrics.DatabaseMetrics
	clock   clockwork.Clock
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

func NewMetricsTracer(m *metrics.DatabaseMetrics, clock clockwork.Clock) *MetricsTracer {
	return &MetricsTracer{metrics: m, clock: clock}
}

type queryContextKey struct{}

type queryStart struct {
	at    time.Time
	label string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryStart{at: t.clock.Now(), label: queryLabel(data.SQL)})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryContextKey{}).(queryStart)
	if !ok {
		return
	}

	t.metrics.QueryDuration.WithLabelValues(start.label).Observe(t.clock.Since(start.at).Seconds())
	if data.Err != nil {
		t.metrics.ErrorsTotal.WithLabelValues(start.label).Inc()
	}
}

// queryLabel keeps metric cardinality low by labelling a statement with its leading keyword.
func queryLabel(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	if strings.HasPrefix(fields[0], "--") && len(fields) > 2 {
		// "-- name: LastValue :one" style annotations
		return strings.TrimSuffix(fields[2], ":")
	}
	return strings.ToUpper(fields[0])
}
