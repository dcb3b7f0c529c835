package sessionstore

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend implements Backend with a plain map. It has the same
// semantics as the durable variants and is handy for tests and single
// process deployments that want backend-level cleanup and counting.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func (m *MemoryBackend) Load(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	r, ok := m.records[id]
	m.mu.RUnlock()

	if !ok || r.Expired(m.now()) {
		return nil, nil
	}
	return r.Clone(), nil
}

func (m *MemoryBackend) Save(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r == nil || r.ID == "" {
		return ErrInvalidSessionID
	}
	c := r.Clone()

	m.mu.Lock()
	m.records[r.ID] = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, r := range m.records {
		if r.ExpiresAt.Before(now) {
			delete(m.records, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryBackend) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
