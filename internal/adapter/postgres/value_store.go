package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/relay/internal/domain"
)

const DefaultHistoryLimit = 1000

const (
	lastValueQuery = `-- name: LastValue :one
SELECT value FROM relay_values ORDER BY id DESC LIMIT 1`

	appendValueQuery = `-- name: AppendValue :exec
INSERT INTO relay_values (value) VALUES ($1)`

	pruneValuesQuery = `-- name: PruneValues :exec
DELETE FROM relay_values
WHERE id <= (SELECT id FROM relay_values ORDER BY id DESC OFFSET $1 LIMIT 1)`

	recordClientQuery = `-- name: RecordClientSeen :exec
INSERT INTO relay_clients (client_id) VALUES ($1)
ON CONFLICT (client_id) DO UPDATE SET last_seen_at = now()`

	historyQuery = `-- name: History :many
SELECT value FROM (
    SELECT id, value FROM relay_values ORDER BY id DESC LIMIT $1
) recent ORDER BY id`
)

// ValueStore keeps the value history in relay_values and the client audit in relay_clients.
// Every operation is a single statement or a single transaction on one pooled connection.
type ValueStore struct {
	pool         *pgxpool.Pool
	defaultValue int64
	historyLimit int
}

var (
	_ domain.ValueStore    = (*ValueStore)(nil)
	_ domain.HealthChecker = (*ValueStore)(nil)
)

func NewValueStore(pool *pgxpool.Pool, defaultValue int64, historyLimit int) *ValueStore {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &ValueStore{pool: pool, defaultValue: defaultValue, historyLimit: historyLimit}
}

func (s *ValueStore) LastValue(ctx context.Context) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx, lastValueQuery).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.defaultValue, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load last value: %w", err)
	}
	return value, nil
}

func (s *ValueStore) AppendValue(ctx context.Context, value int64) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, appendValueQuery, value); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, pruneValuesQuery, s.historyLimit)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to append value: %w", err)
	}
	return nil
}

func (s *ValueStore) RecordClientSeen(ctx context.Context, clientID string) error {
	if _, err := s.pool.Exec(ctx, recordClientQuery, clientID); err != nil {
		return fmt.Errorf("failed to record client: %w", err)
	}
	return nil
}

// History returns up to limit of the most recent values, oldest first.
func (s *ValueStore) History(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, historyQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return values, nil
}

func (s *ValueStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
