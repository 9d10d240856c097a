package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/relay/internal/adapter/metrics"
	"github.com/pscheid92/relay/internal/domain"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

const (
	opLastValue  = "last_value"
	opAppend     = "append_value"
	opClientSeen = "record_client_seen"

	// sharedLookupTimeout bounds a collapsed LastValue call, which outlives any single caller.
	sharedLookupTimeout = 5 * time.Second
)

type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
}

var DefaultBreakerSettings = BreakerSettings{
	ConsecutiveFailures: 5,
	OpenTimeout:         30 * time.Second,
	HalfOpenRequests:    1,
}

// GuardedStore wraps a ValueStore so a failing backend fails fast instead of stalling every
// connect and publish for the full store timeout.
type GuardedStore struct {
	inner     domain.ValueStore
	breaker   *gobreaker.CircuitBreaker
	metrics   *metrics.StoreMetrics
	clock     clockwork.Clock
	lastValue singleflight.Group
}

var (
	_ domain.ValueStore    = (*GuardedStore)(nil)
	_ domain.HealthChecker = (*GuardedStore)(nil)
)

func NewGuardedStore(inner domain.ValueStore, m *metrics.StoreMetrics, clock clockwork.Clock, settings BreakerSettings) *GuardedStore {
	m.CircuitState.WithLabelValues("store").Set(stateToFloat(gobreaker.StateClosed))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store",
		MaxRequests: settings.HalfOpenRequests,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not evidence that the backend is down.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			m.CircuitStateChanges.WithLabelValues(name, to.String()).Inc()
			m.CircuitState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &GuardedStore{inner: inner, breaker: breaker, metrics: m, clock: clock}
}

// LastValue collapses concurrent lookups into one backend call. The call runs detached from
// the caller that started it, so a short deadline there cannot fail the callers that joined;
// each caller still stops waiting when its own ctx ends.
func (s *GuardedStore) LastValue(ctx context.Context) (int64, error) {
	results := s.lastValue.DoChan(opLastValue, func() (any, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()

		return execute(s, opLastValue, func() (int64, error) {
			return s.inner.LastValue(sharedCtx)
		})
	})

	select {
	case res := <-results:
		if res.Shared {
			s.metrics.LastValueShared.Inc()
		}
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *GuardedStore) AppendValue(ctx context.Context, value int64) error {
	_, err := execute(s, opAppend, func() (struct{}, error) {
		return struct{}{}, s.inner.AppendValue(ctx, value)
	})
	return err
}

func (s *GuardedStore) RecordClientSeen(ctx context.Context, clientID string) error {
	_, err := execute(s, opClientSeen, func() (struct{}, error) {
		return struct{}{}, s.inner.RecordClientSeen(ctx, clientID)
	})
	return err
}

// Ping checks the backend directly, bypassing the breaker so readiness reflects the real state.
func (s *GuardedStore) Ping(ctx context.Context) error {
	if hc, ok := s.inner.(domain.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

func (s *GuardedStore) State() gobreaker.State {
	return s.breaker.State()
}

func execute[T any](s *GuardedStore, op string, fn func() (T, error)) (T, error) {
	start := s.clock.Now()
	out, err := s.breaker.Execute(func() (any, error) {
		return fn()
	})
	s.metrics.OperationDuration.WithLabelValues(op).Observe(s.clock.Since(start).Seconds())

	var zero T
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		s.metrics.OperationsTotal.WithLabelValues(op, "rejected").Inc()
		return zero, fmt.Errorf("%s: %w", op, domain.ErrStoreOpen)
	case err != nil:
		s.metrics.OperationsTotal.WithLabelValues(op, "error").Inc()
		return zero, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.OperationsTotal.WithLabelValues(op, "success").Inc()
	return out.(T), nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
