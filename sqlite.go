package sessionstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Backend on an embedded, CGO-free SQLite database.
type SQLiteStore struct {
	db              *sql.DB
	mu              sync.Mutex // Serializes writes to avoid SQLITE_BUSY
	saveStmt        *sql.Stmt
	loadStmt        *sql.Stmt
	deleteStmt      *sql.Stmt
	cleanupStmt     *sql.Stmt
	countStmt       *sql.Stmt
	maxSessionBytes int
}

// SQLiteConfig holds configuration for the SQLite store.
type SQLiteConfig struct {
	DSN             string
	TableName       string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MaxSessionBytes int
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{
		DSN:          dsn,
		MaxOpenConns: 16, // Allow concurrent readers (writers are serialized by mutex)
		MaxIdleConns: 16,
	})
}

func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	table, err := sqlTableName(cfg.TableName)
	if err != nil {
		return nil, err
	}

	// PRAGMAs go into the DSN so they apply to every pooled connection.
	cfg.DSN = withPragma(cfg.DSN, "synchronous", "synchronous=NORMAL")
	cfg.DSN = withPragma(cfg.DSN, "busy_timeout", "busy_timeout=5000")

	// Each connection to ":memory:" opens its own database; pin the pool to one.
	if strings.Contains(cfg.DSN, ":memory:") {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
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

	// WAL mode persists in the database file, so once is enough.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		data BLOB,
		created_at DATETIME,
		expires_at DATETIME,
		longterm BOOLEAN NOT NULL DEFAULT 0,
		storable BOOLEAN NOT NULL DEFAULT 0,
		store_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_expires_at ON %[1]s(expires_at);
	`, table)
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	store := &SQLiteStore{
		db:              db,
		maxSessionBytes: cfg.MaxSessionBytes,
	}

	if store.saveStmt, err = db.Prepare(fmt.Sprintf(`
		INSERT INTO %s (id, data, created_at, expires_at, longterm, storable, store_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			expires_at = excluded.expires_at,
			longterm = excluded.longterm,
			storable = excluded.storable,
			store_id = excluded.store_id
	`, table)); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare save statement: %w", err)
	}
	if store.loadStmt, err = db.Prepare(fmt.Sprintf(
		"SELECT data, created_at, expires_at, longterm, storable, store_id FROM %s WHERE id = ? AND expires_at > ?", table)); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare load statement: %w", err)
	}
	if store.deleteStmt, err = db.Prepare(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	if store.cleanupStmt, err = db.Prepare(fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table)); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}
	if store.countStmt, err = db.Prepare(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare count statement: %w", err)
	}

	return store, nil
}

func withPragma(dsn, name, pragma string) string {
	if strings.Contains(dsn, name) {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=%s", dsn, separator, pragma)
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*Record, error) {
	rows, err := s.loadStmt.QueryContext(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate rows: %w", err)
		}
		return nil, nil // Not found or expired
	}

	var row sqlRow
	if err := rows.Scan(&row.data, &row.createdAt, &row.expiresAt, &row.longterm, &row.storable, &row.storeID); err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return row.record(id, s.maxSessionBytes)
}

func (s *SQLiteStore) Save(ctx context.Context, r *Record) error {
	blob, err := encodeRow(r, s.maxSessionBytes)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.saveStmt.ExecContext(ctx, r.ID, blob, r.CreatedAt.UTC(), r.ExpiresAt.UTC(), r.Longterm, r.Storable, r.StoreID)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.deleteStmt.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.cleanupStmt.ExecContext(ctx, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned up sessions: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.countStmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	closeStmts(s.saveStmt, s.loadStmt, s.deleteStmt, s.cleanupStmt, s.countStmt)
	return s.db.Close()
}
