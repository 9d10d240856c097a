// Package memory provides an in-process ValueStore for single-instance deployments and tests.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/relay/internal/domain"
)

const (
	DefaultHistoryLimit = 1000
	DefaultSeenLimit    = 10000
)

// ValueStore keeps the last value, a bounded history and the client audit log in memory.
// Each operation holds the mutex only for its own duration.
type ValueStore struct {
	mu           sync.Mutex
	clock        clockwork.Clock
	defaultValue int64
	history      []int64
	historyLimit int

	// The audit log keeps the seenLimit most recently seen clients; seenOrder runs
	// from least to most recently seen.
	seen      map[string]*list.Element
	seenOrder *list.List
	seenLimit int
}

type seenEntry struct {
	clientID string
	at       time.Time
}

var _ domain.ValueStore = (*ValueStore)(nil)

type Option func(*ValueStore)

// WithSeenLimit caps the client audit log. Non-positive limits keep DefaultSeenLimit.
func WithSeenLimit(limit int) Option {
	return func(s *ValueStore) {
		if limit > 0 {
			s.seenLimit = limit
		}
	}
}

func NewValueStore(defaultValue int64, historyLimit int, clock clockwork.Clock, opts ...Option) *ValueStore {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	s := &ValueStore{
		clock:        clock,
		defaultValue: defaultValue,
		historyLimit: historyLimit,
		seen:         make(map[string]*list.Element),
		seenOrder:    list.New(),
		seenLimit:    DefaultSeenLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ValueStore) LastValue(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 {
		return s.defaultValue, nil
	}
	return s.history[len(s.history)-1], nil
}

func (s *ValueStore) AppendValue(ctx context.Context, value int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, value)
	if over := len(s.history) - s.historyLimit; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
	return nil
}

func (s *ValueStore) RecordClientSeen(ctx context.Context, clientID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if el, ok := s.seen[clientID]; ok {
		el.Value.(*seenEntry).at = now
		s.seenOrder.MoveToBack(el)
		return nil
	}

	s.seen[clientID] = s.seenOrder.PushBack(&seenEntry{clientID: clientID, at: now})
	for s.seenOrder.Len() > s.seenLimit {
		oldest := s.seenOrder.Front()
		s.seenOrder.Remove(oldest)
		delete(s.seen, oldest.Value.(*seenEntry).clientID)
	}
	return nil
}

// History returns a copy of the stored values, oldest first.
func (s *ValueStore) History() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.history...)
}

// SeenAt reports when clientID was last recorded. Clients evicted from the audit log
// are reported as unseen.
func (s *ValueStore) SeenAt(clientID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.seen[clientID]
	if !ok {
		return time.Time{}, false
	}
	return el.Value.(*seenEntry).at, true
}

// SeenCount returns the number of clients in the audit log.
func (s *ValueStore) SeenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seenOrder.Len()
}

func (s *ValueStore) Ping(context.Context) error {
	return nil
}
