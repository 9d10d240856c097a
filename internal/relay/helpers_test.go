package relay

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/pscheid92/relay/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingStore struct {
	domain.ValueStore

	mu   sync.Mutex
	seen []string
}

func (s *recordingStore) RecordClientSeen(ctx context.Context, clientID string) error {
	s.mu.Lock()
	s.seen = append(s.seen, clientID)
	s.mu.Unlock()
	return s.ValueStore.RecordClientSeen(ctx, clientID)
}

func (s *recordingStore) seenIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

type failingStore struct {
	err error
}

func (s *failingStore) LastValue(context.Context) (int64, error)       { return 0, s.err }
func (s *failingStore) AppendValue(context.Context, int64) error       { return s.err }
func (s *failingStore) RecordClientSeen(context.Context, string) error { return s.err }
