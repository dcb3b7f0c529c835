package sessionstore

import (
	"context"
	"time"
)

// Backend defines the interface for durable session persistence.
//
// Implementations must be safe for concurrent use. The manager never issues
// two writes for the same id at once, but different ids are written in
// parallel.
type Backend interface {
	// Load retrieves a record by its ID. It returns nil, nil when the record
	// does not exist or has expired.
	Load(ctx context.Context, id string) (*Record, error)
	// Save inserts or overwrites the record with the same ID.
	Save(ctx context.Context, r *Record) error
	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
	// CleanupExpired removes every record with ExpiresAt before now and
	// returns how many were removed.
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	// Close releases resources the backend opened itself.
	Close() error
}

// backendName labels a backend in errors and logs.
func backendName(b Backend) string {
	switch b.(type) {
	case *MemoryBackend:
		return "memory"
	case *PostgreSQLStore:
		return "postgres"
	case *PgxStore:
		return "pgx"
	case *SQLiteStore:
		return "sqlite"
	case *RedisStore:
		return "redis"
	case *MemcachedStore:
		return "memcached"
	case *MongoStore:
		return "mongo"
	case nil:
		return "none"
	}
	return "custom"
}
