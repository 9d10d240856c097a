package domain

import (
	"context"
	"fmt"
)

// DefaultValue is served to new clients when no value has been stored yet.
const DefaultValue int64 = 50

// StoreBackend names a ValueStore implementation.
type StoreBackend string

const (
	BackendMemory   StoreBackend = "memory"
	BackendPostgres StoreBackend = "postgres"
	BackendRedis    StoreBackend = "redis"
)

func ParseStoreBackend(s string) (StoreBackend, error) {
	switch b := StoreBackend(s); b {
	case BackendMemory, BackendPostgres, BackendRedis:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

// ValueStore persists the Last-Value Record and its history.
// Implementations hold any lock only for the duration of a single operation.
type ValueStore interface {
	// LastValue returns the most recently appended value, or the store's default when empty.
	LastValue(ctx context.Context) (int64, error)
	AppendValue(ctx context.Context, value int64) error
	// RecordClientSeen is audit-only; failures never affect delivery.
	RecordClientSeen(ctx context.Context, clientID string) error
}

// HealthChecker is implemented by stores that can report backend health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
