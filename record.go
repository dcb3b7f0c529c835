package sessionstore

import (
	"bytes"
	"maps"
	"time"
)

// Record is the server-side state of one session.
type Record struct {
	ID        string
	Data      map[string][]byte
	CreatedAt time.Time
	ExpiresAt time.Time
	// Longterm selects Config.LongtermLifetime ("remember me").
	Longterm bool
	// Storable marks records the client agreed to have persisted. Only
	// consulted in ModeOptIn.
	Storable bool
	// StoreID correlates the rows of one logical session across renewals.
	StoreID string
}

// Expired reports whether the record is logically absent at now. A record
// is live only while its expiry lies in the future.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// pastDue reports whether a sweep at now removes the record. It matches
// Backend.CleanupExpired: strictly before now.
func (r *Record) pastDue(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// Clone returns a deep copy; values are copied too so callers never alias
// bytes held by the cache.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Data = cloneData(r.Data)
	return &c
}

func cloneData(data map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(data))
	for k, v := range data {
		out[k] = bytes.Clone(v)
	}
	return out
}

func equalData(a, b map[string][]byte) bool {
	return maps.EqualFunc(a, b, bytes.Equal)
}

// ceilTime rounds t up to a multiple of tick for stores whose timestamps
// are coarser than time.Time. Stored expiries never move before the real
// one, so cleanup cannot drop a record that is still live.
func ceilTime(t time.Time, tick time.Duration) time.Time {
	if t.IsZero() {
		return t
	}
	if down := t.Truncate(tick); !down.Equal(t) {
		return down.Add(tick)
	}
	return t
}

func nanoTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
