package sessionstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errUnavailable = errors.New("backend unavailable")

// spyBackend wraps a MemoryBackend, counts calls and injects failures.
type spyBackend struct {
	*MemoryBackend

	loads, saves, deletes, cleanups, counts atomic.Int32

	// loadErr fails every Load when set.
	loadErr error
	// saveFailures fails that many Save calls with errUnavailable.
	saveFailures atomic.Int32
	// deleteErr, when set, decides per id whether Delete fails.
	deleteErr func(id string) error
}

func newSpyBackend() *spyBackend {
	return &spyBackend{MemoryBackend: NewMemoryBackend()}
}

func (s *spyBackend) Load(ctx context.Context, id string) (*Record, error) {
	s.loads.Add(1)
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.MemoryBackend.Load(ctx, id)
}

func (s *spyBackend) Save(ctx context.Context, r *Record) error {
	s.saves.Add(1)
	if s.saveFailures.Load() > 0 {
		s.saveFailures.Add(-1)
		return errUnavailable
	}
	return s.MemoryBackend.Save(ctx, r)
}

func (s *spyBackend) Delete(ctx context.Context, id string) error {
	s.deletes.Add(1)
	if s.deleteErr != nil {
		if err := s.deleteErr(id); err != nil {
			return err
		}
	}
	return s.MemoryBackend.Delete(ctx, id)
}

func (s *spyBackend) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	s.cleanups.Add(1)
	return s.MemoryBackend.CleanupExpired(ctx, now)
}

func (s *spyBackend) Count(ctx context.Context) (int, error) {
	s.counts.Add(1)
	return s.MemoryBackend.Count(ctx)
}

func (s *spyBackend) calls() int32 {
	return s.loads.Load() + s.saves.Load() + s.deletes.Load() + s.cleanups.Load() + s.counts.Load()
}

// stored reports whether the backend holds a live record for id.
func (s *spyBackend) stored(t *testing.T, id string) *Record {
	t.Helper()
	r, err := s.MemoryBackend.Load(context.Background(), id)
	require.NoError(t, err)
	return r
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, cfg Config, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

// flushCookie flushes h and returns the cookie value it produced.
func flushCookie(t *testing.T, m *Manager, h *Handle) string {
	t.Helper()
	c, err := m.Flush(context.Background(), h)
	require.NoError(t, err)
	require.NotNil(t, c, "expected a cookie from a dirty flush")
	return c.Value
}
