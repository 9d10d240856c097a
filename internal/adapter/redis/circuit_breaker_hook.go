package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/relay/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const breakerComponent = "redis"

// BreakerSettings configures the Redis circuit breaker.
type BreakerSettings struct {
	// The breaker opens when FailureThreshold of the last FailureExecutions commands failed.
	FailureThreshold  uint
	FailureExecutions uint
	Delay             time.Duration
	SuccessThreshold  uint
}

var DefaultBreakerSettings = BreakerSettings{
	FailureThreshold:  3,
	FailureExecutions: 5,
	Delay:             30 * time.Second,
	SuccessThreshold:  1,
}

// CircuitBreakerHook fails Redis commands fast while Redis is unreachable.
// It is installed as a hook so that every command and pipeline is covered.
type CircuitBreakerHook struct {
	cb circuitbreaker.CircuitBreaker[any]
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

func NewCircuitBreakerHook(m *metrics.StoreMetrics, settings BreakerSettings) *CircuitBreakerHook {
	cb := circuitbreaker.Builder[any]().
		WithFailureThresholdRatio(settings.FailureThreshold, settings.FailureExecutions).
		WithDelay(settings.Delay).
		WithSuccessThreshold(settings.SuccessThreshold).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", breakerComponent,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			m.CircuitStateChanges.WithLabelValues(breakerComponent, e.NewState.String()).Inc()
			m.CircuitState.WithLabelValues(breakerComponent).Set(stateToFloat(e.NewState))
		}).
		Build()

	m.CircuitState.WithLabelValues(breakerComponent).Set(0)
	return &CircuitBreakerHook{cb: cb}
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !h.cb.TryAcquirePermit() {
			return nil, fmt.Errorf("redis dial rejected: %w", circuitbreaker.ErrOpen)
		}
		conn, err := next(ctx, network, addr)
		h.record(err)
		return conn, err
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			err := fmt.Errorf("redis %s rejected: %w", cmd.Name(), circuitbreaker.ErrOpen)
			cmd.SetErr(err)
			return err
		}
		err := next(ctx, cmd)
		h.record(err)
		return err
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			err := fmt.Errorf("redis pipeline rejected: %w", circuitbreaker.ErrOpen)
			for _, cmd := range cmds {
				cmd.SetErr(err)
			}
			return err
		}
		err := next(ctx, cmds)
		h.record(err)
		return err
	}
}

// record treats a missing key and a caller-side cancellation as healthy responses.
func (h *CircuitBreakerHook) record(err error) {
	if err == nil || errors.Is(err, goredis.Nil) || errors.Is(err, context.Canceled) {
		h.cb.RecordSuccess()
		return
	}
	h.cb.RecordError(err)
}

func (h *CircuitBreakerHook) State() circuitbreaker.State {
	return h.cb.State()
}
