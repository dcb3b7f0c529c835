package sessionstore

import (
	"database/sql"
	"fmt"
	"time"
)

type sqlQueries struct {
	save    string
	load    string
	delete  string
	cleanup string
	count   string
}

// sqlTableName validates the table name before it is spliced into SQL.
func sqlTableName(name string) (string, error) {
	if name == "" {
		return "sessions", nil
	}
	if !tableNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: invalid table name %q", ErrInvalidConfig, name)
	}
	return name, nil
}

// sqlRow is the scan target shared by the tabular backends.
type sqlRow struct {
	data      []byte
	createdAt time.Time
	expiresAt time.Time
	longterm  bool
	storable  bool
	storeID   string
}

func (row *sqlRow) record(id string, maxBytes int) (*Record, error) {
	if maxBytes > 0 && len(row.data) > maxBytes {
		return nil, ErrSessionTooLarge
	}
	data, err := decodeData(row.data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}
	return &Record{
		ID:        id,
		Data:      data,
		CreatedAt: row.createdAt,
		ExpiresAt: row.expiresAt,
		Longterm:  row.longterm,
		Storable:  row.storable,
		StoreID:   row.storeID,
	}, nil
}

// encodeRow produces the blob column for r. Empty sessions are stored as NULL.
func encodeRow(r *Record, maxBytes int) ([]byte, error) {
	if r == nil || r.ID == "" {
		return nil, ErrInvalidSessionID
	}
	blob, err := encodeData(r.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session data: %w", err)
	}
	if maxBytes > 0 && len(blob) > maxBytes {
		return nil, ErrSessionTooLarge
	}
	return blob, nil
}

func closeStmts(stmts ...*sql.Stmt) {
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
}
