package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLStore implements Backend on PostgreSQL through database/sql and lib/pq.
type PostgreSQLStore struct {
	db              *sql.DB
	saveStmt        *sql.Stmt
	loadStmt        *sql.Stmt
	deleteStmt      *sql.Stmt
	cleanupStmt     *sql.Stmt
	countStmt       *sql.Stmt
	maxSessionBytes int
}

// PostgreSQLConfig holds configuration for the PostgreSQL store.
type PostgreSQLConfig struct {
	DSN             string
	TableName       string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MaxSessionBytes int
}

// NewPostgreSQLStore creates a new PostgreSQL store with default configuration.
func NewPostgreSQLStore(dsn string) (*PostgreSQLStore, error) {
	return NewPostgreSQLStoreWithConfig(PostgreSQLConfig{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	})
}

// NewPostgreSQLStoreWithConfig creates a new PostgreSQL store with custom configuration.
func NewPostgreSQLStoreWithConfig(cfg PostgreSQLConfig) (*PostgreSQLStore, error) {
	table, err := sqlTableName(cfg.TableName)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgresql database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgresql database: %w", err)
	}

	if _, err := db.Exec(postgresSchema(table)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	store := &PostgreSQLStore{db: db, maxSessionBytes: cfg.MaxSessionBytes}
	q := postgresQueries(table)

	if store.saveStmt, err = db.Prepare(q.save); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare save statement: %w", err)
	}
	if store.loadStmt, err = db.Prepare(q.load); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare load statement: %w", err)
	}
	if store.deleteStmt, err = db.Prepare(q.delete); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	if store.cleanupStmt, err = db.Prepare(q.cleanup); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}
	if store.countStmt, err = db.Prepare(q.count); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare count statement: %w", err)
	}

	return store, nil
}

func (s *PostgreSQLStore) Load(ctx context.Context, id string) (*Record, error) {
	var row sqlRow
	err := s.loadStmt.QueryRowContext(ctx, id, time.Now()).
		Scan(&row.data, &row.createdAt, &row.expiresAt, &row.longterm, &row.storable, &row.storeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return row.record(id, s.maxSessionBytes)
}

func (s *PostgreSQLStore) Save(ctx context.Context, r *Record) error {
	blob, err := encodeRow(r, s.maxSessionBytes)
	if err != nil {
		return err
	}
	expiresAt := ceilTime(r.ExpiresAt, time.Microsecond)
	_, err = s.saveStmt.ExecContext(ctx, r.ID, blob, r.CreatedAt, expiresAt, r.Longterm, r.Storable, r.StoreID)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.deleteStmt.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.cleanupStmt.ExecContext(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned up sessions: %w", err)
	}
	return int(n), nil
}

func (s *PostgreSQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.countStmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func (s *PostgreSQLStore) Close() error {
	closeStmts(s.saveStmt, s.loadStmt, s.deleteStmt, s.cleanupStmt, s.countStmt)
	return s.db.Close()
}

// timestamptz keeps microseconds; Save rounds expiries up to that.
func postgresSchema(table string) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		data BYTEA,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		longterm BOOLEAN NOT NULL DEFAULT FALSE,
		storable BOOLEAN NOT NULL DEFAULT FALSE,
		store_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_expires_at ON %[1]s(expires_at);
	`, table)
}

// postgresQueries serve both the lib/pq and the pgx stores.
func postgresQueries(table string) sqlQueries {
	return sqlQueries{
		save: fmt.Sprintf(`
		INSERT INTO %s (id, data, created_at, expires_at, longterm, storable, store_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(id) DO UPDATE SET
			data = EXCLUDED.data,
			expires_at = EXCLUDED.expires_at,
			longterm = EXCLUDED.longterm,
			storable = EXCLUDED.storable,
			store_id = EXCLUDED.store_id
	`, table),
		load:    fmt.Sprintf("SELECT data, created_at, expires_at, longterm, storable, store_id FROM %s WHERE id = $1 AND expires_at > $2", table),
		delete:  fmt.Sprintf("DELETE FROM %s WHERE id = $1", table),
		cleanup: fmt.Sprintf("DELETE FROM %s WHERE expires_at < $1", table),
		count:   fmt.Sprintf("SELECT COUNT(*) FROM %s", table),
	}
}
