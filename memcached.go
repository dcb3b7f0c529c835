package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcachedStore implements Backend using Memcached. The server evicts
// expired items on its own, so CleanupExpired has nothing to do, and since
// Memcached cannot enumerate keys Count returns ErrCountUnsupported.
type MemcachedStore struct {
	client          *memcache.Client
	ttl             time.Duration
	prefix          string
	codec           Codec
	maxSessionBytes int
}

// MemcachedConfig holds configuration for the Memcached store.
type MemcachedConfig struct {
	Servers         []string
	TTL             time.Duration
	KeyPrefix       string
	Codec           *Codec // Defaults to MsgPack.
	MaxSessionBytes int
	Timeout         time.Duration // Timeout for Memcached operations. 0 means no timeout.
}

// NewMemcachedStore creates a new MemcachedStore.
func NewMemcachedStore(ttl time.Duration, servers ...string) *MemcachedStore {
	return NewMemcachedStoreWithConfig(MemcachedConfig{
		Servers: servers,
		TTL:     ttl,
		// Don't hang forever when Memcached is down.
		Timeout: 1 * time.Second,
	})
}

// NewMemcachedStoreWithConfig creates a new MemcachedStore with custom configuration.
func NewMemcachedStoreWithConfig(cfg MemcachedConfig) *MemcachedStore {
	client := memcache.New(cfg.Servers...)
	client.Timeout = cfg.Timeout

	codec := MsgPack
	if cfg.Codec != nil {
		codec = *cfg.Codec
	}

	return &MemcachedStore{
		client:          client,
		ttl:             cfg.TTL,
		prefix:          cfg.KeyPrefix,
		codec:           codec,
		maxSessionBytes: cfg.MaxSessionBytes,
	}
}

func (s *MemcachedStore) key(id string) string {
	return s.prefix + id
}

// Load retrieves a session from Memcached.
func (s *MemcachedStore) Load(ctx context.Context, id string) (*Record, error) {
	item, err := s.client.Get(s.key(id))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from memcached: %w", err)
	}

	if s.maxSessionBytes > 0 && len(item.Value) > s.maxSessionBytes {
		return nil, ErrSessionTooLarge
	}

	r, err := decodeEnvelope(s.codec, id, item.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}
	// Expiry is enforced here too; server-side TTLs are second-granular.
	if r.Expired(time.Now()) {
		return nil, nil
	}
	return r, nil
}

// Save stores a session in Memcached.
func (s *MemcachedStore) Save(ctx context.Context, r *Record) error {
	if r == nil || r.ID == "" {
		return ErrInvalidSessionID
	}
	blob, err := encodeEnvelope(s.codec, r)
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}
	if s.maxSessionBytes > 0 && len(blob) > s.maxSessionBytes {
		return ErrSessionTooLarge
	}

	now := time.Now()
	if !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now) {
		// Already expired: the upsert leaves nothing behind.
		return s.Delete(ctx, r.ID)
	}

	err = s.client.Set(&memcache.Item{
		Key:        s.key(r.ID),
		Value:      blob,
		Expiration: calculateMemcachedExpiration(now, r.ExpiresAt, s.ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to save to memcached: %w", err)
	}
	return nil
}

// Delete removes a session from Memcached.
func (s *MemcachedStore) Delete(ctx context.Context, id string) error {
	err := s.client.Delete(s.key(id))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("failed to delete from memcached: %w", err)
	}
	return nil
}

// CleanupExpired reports 0: Memcached expires items itself.
func (s *MemcachedStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func (s *MemcachedStore) Count(ctx context.Context) (int, error) {
	return 0, ErrCountUnsupported
}

// Close releases idle connections.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}

// calculateMemcachedExpiration calculates the expiration value for Memcached.
// Memcached treats values > 30 days (60*60*24*30 seconds) as absolute Unix timestamps.
// Values <= 30 days are treated as a delta from the current time.
func calculateMemcachedExpiration(now time.Time, expiresAt time.Time, ttl time.Duration) int32 {
	const maxDelta = 30 * 24 * 60 * 60 // 30 days in seconds

	var duration time.Duration
	if !expiresAt.IsZero() {
		duration = expiresAt.Sub(now)
	} else {
		duration = ttl
	}

	// Past 30 days the value must be an absolute timestamp, otherwise
	// Memcached reads the delta as a date in 1970 and expires the item.
	if duration > maxDelta*time.Second {
		if !expiresAt.IsZero() {
			return int32(expiresAt.Unix())
		}
		return int32(now.Add(ttl).Unix())
	}

	if duration < 0 {
		return 0
	}
	// Round up so a sub-second remainder doesn't become "never expires".
	secs := int32(duration / time.Second)
	if duration%time.Second != 0 {
		secs++
	}
	return secs
}
