package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxStore implements Backend on PostgreSQL through a pgx connection pool
// owned by the caller. Close does not close the pool.
type PgxStore struct {
	pool            *pgxpool.Pool
	queries         sqlQueries
	maxSessionBytes int
}

// PgxConfig holds configuration for the pgx store.
type PgxConfig struct {
	TableName       string
	MaxSessionBytes int
	// SkipMigrate leaves table creation to the caller's migrations.
	SkipMigrate bool
}

// NewPgxStore creates the sessions table if needed and returns a store on pool.
func NewPgxStore(ctx context.Context, pool *pgxpool.Pool, cfg PgxConfig) (*PgxStore, error) {
	table, err := sqlTableName(cfg.TableName)
	if err != nil {
		return nil, err
	}
	if !cfg.SkipMigrate {
		if _, err := pool.Exec(ctx, postgresSchema(table)); err != nil {
			return nil, fmt.Errorf("failed to create sessions table: %w", err)
		}
	}
	return &PgxStore{
		pool:            pool,
		queries:         postgresQueries(table),
		maxSessionBytes: cfg.MaxSessionBytes,
	}, nil
}

func (s *PgxStore) Load(ctx context.Context, id string) (*Record, error) {
	var row sqlRow
	err := s.pool.QueryRow(ctx, s.queries.load, id, time.Now()).
		Scan(&row.data, &row.createdAt, &row.expiresAt, &row.longterm, &row.storable, &row.storeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return row.record(id, s.maxSessionBytes)
}

func (s *PgxStore) Save(ctx context.Context, r *Record) error {
	blob, err := encodeRow(r, s.maxSessionBytes)
	if err != nil {
		return err
	}
	expiresAt := ceilTime(r.ExpiresAt, time.Microsecond)
	_, err = s.pool.Exec(ctx, s.queries.save, r.ID, blob, r.CreatedAt, expiresAt, r.Longterm, r.Storable, r.StoreID)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *PgxStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, s.queries.delete, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *PgxStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, s.queries.cleanup, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgxStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, s.queries.count).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return int(n), nil
}

// Close is a no-op: the pool belongs to the caller.
func (s *PgxStore) Close() error {
	return nil
}
