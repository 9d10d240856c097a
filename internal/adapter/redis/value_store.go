package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/relay/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultHistoryLimit = 1000

	lastValueKey = "relay:last_value"
	historyKey   = "relay:history"
	clientsKey   = "relay:clients"
)

// ValueStore keeps the last value in a string key, the bounded history in a list
// and the client audit in a sorted set scored by last-seen time in milliseconds.
type ValueStore struct {
	rdb          *goredis.Client
	clock        clockwork.Clock
	defaultValue int64
	historyLimit int
}

var (
	_ domain.ValueStore    = (*ValueStore)(nil)
	_ domain.HealthChecker = (*ValueStore)(nil)
)

func NewValueStore(rdb *goredis.Client, defaultValue int64, historyLimit int, clock clockwork.Clock) *ValueStore {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &ValueStore{rdb: rdb, clock: clock, defaultValue: defaultValue, historyLimit: historyLimit}
}

func (s *ValueStore) LastValue(ctx context.Context) (int64, error) {
	raw, err := s.rdb.Get(ctx, lastValueKey).Result()
	if errors.Is(err, goredis.Nil) {
		return s.defaultValue, nil
	}
	if err != nil {
		return 0, wrap("failed to get last value", err)
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt last value %q: %w", raw, err)
	}
	return value, nil
}

// AppendValue updates the last value and the history in one MULTI/EXEC.
func (s *ValueStore) AppendValue(ctx context.Context, value int64) error {
	encoded := strconv.FormatInt(value, 10)

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, lastValueKey, encoded, 0)
	pipe.RPush(ctx, historyKey, encoded)
	pipe.LTrim(ctx, historyKey, int64(-s.historyLimit), -1)

	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("append value pipeline failed", err)
	}
	return nil
}

func (s *ValueStore) RecordClientSeen(ctx context.Context, clientID string) error {
	member := goredis.Z{Score: float64(s.clock.Now().UnixMilli()), Member: clientID}
	if err := s.rdb.ZAdd(ctx, clientsKey, member).Err(); err != nil {
		return wrap("failed to record client", err)
	}
	return nil
}

// History returns the stored values, oldest first.
func (s *ValueStore) History(ctx context.Context) ([]int64, error) {
	raw, err := s.rdb.LRange(ctx, historyKey, 0, -1).Result()
	if err != nil {
		return nil, wrap("failed to read history", err)
	}

	values := make([]int64, 0, len(raw))
	for _, r := range raw {
		v, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt history entry %q: %w", r, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// SeenAt reports when clientID was last recorded.
func (s *ValueStore) SeenAt(ctx context.Context, clientID string) (time.Time, bool, error) {
	score, err := s.rdb.ZScore(ctx, clientsKey, clientID).Result()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrap("failed to read client", err)
	}
	return time.UnixMilli(int64(score)), true, nil
}

func (s *ValueStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return wrap("redis ping failed", err)
	}
	return nil
}

// wrap annotates err and maps an open breaker onto domain.ErrStoreOpen.
func wrap(msg string, err error) error {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%s: %w: %w", msg, domain.ErrStoreOpen, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
