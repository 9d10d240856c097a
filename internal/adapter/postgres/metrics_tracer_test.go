package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/relay/internal/adapter/metrics"
	"github.com/stretchr/testify/assert"
)

func TestQueryLabel(t *testing.T) {
	tests := []struct {
		sql  string
		want string
	}{
		{"", "unknown"},
		{"select 1", "SELECT"},
		{"  INSERT INTO t VALUES (1)", "INSERT"},
		{"SELECT pg_advisory_lock($1)", "SELECT"},
		{lastValueQuery, "LastValue"},
		{recordClientQuery, "RecordClientSeen"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, queryLabel(tt.sql), "sql %q", tt.sql)
	}
}

func TestMetricsTracer_ObservesDurationAndErrors(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := metrics.NewDatabaseMetrics(prometheus.NewRegistry())
	tracer := NewMetricsTracer(m, clock)

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: appendValueQuery})
	clock.Advance(30 * time.Millisecond)
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	assert.Equal(t, 1, testutil.CollectAndCount(m.QueryDuration))
	assert.InDelta(t, 1, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("AppendValue")), 0)
}

func TestMetricsTracer_IgnoresUntracedContext(t *testing.T) {
	m := metrics.NewDatabaseMetrics(prometheus.NewRegistry())
	tracer := NewMetricsTracer(m, clockwork.NewFakeClock())

	tracer.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})

	assert.Equal(t, 0, testutil.CollectAndCount(m.QueryDuration))
}

func TestSSLMode(t *testing.T) {
	assert.Equal(t, "disable", sslMode("postgres://u:p@localhost/db?sslmode=DISABLE"))
	assert.Equal(t, "prefer (default)", sslMode("postgres://u:p@localhost/db"))
	assert.Equal(t, "unknown", sslMode("://bad"))
}
