package sessionstore

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_RemovesExactlyTheExpired(t *testing.T) {
	clock := newFakeClock()
	backend := newSpyBackend()
	reg := prometheus.NewRegistry()
	m := newTestManager(t, Config{Lifetime: time.Hour},
		WithBackend(backend), WithClock(clock.Now), WithRegisterer(reg))
	ctx := context.Background()

	var expiring []string
	for range 3 {
		h, err := m.Load(ctx, "")
		require.NoError(t, err)
		flushCookie(t, m, h)
		expiring = append(expiring, h.ID())
	}

	clock.Advance(30 * time.Minute)
	var live []string
	for range 2 {
		h, err := m.Load(ctx, "")
		require.NoError(t, err)
		flushCookie(t, m, h)
		live = append(live, h.ID())
	}

	clock.Advance(31 * time.Minute)
	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Cached: 3, Backend: 3}, res)

	for _, id := range expiring {
		assert.Nil(t, m.cache.get(id))
	}
	for _, id := range live {
		assert.NotNil(t, m.cache.get(id))
	}
	count, err := backend.MemoryBackend.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.metrics.swept.WithLabelValues("cache")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.metrics.swept.WithLabelValues("backend")))

	res, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
}

func TestSweep_BoundaryMatchesBackendCleanup(t *testing.T) {
	clock := newFakeClock()
	backend := newSpyBackend()
	m := newTestManager(t, Config{Lifetime: time.Hour}, WithBackend(backend), WithClock(clock.Now))
	ctx := context.Background()

	h, err := m.Load(ctx, "")
	require.NoError(t, err)
	value := flushCookie(t, m, h)

	// Expiry exactly now: no longer loadable, not yet swept.
	clock.Advance(time.Hour)
	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
	cached := m.cache.get(h.ID())
	require.NotNil(t, cached)
	assert.True(t, cached.Expired(clock.Now()))

	clock.Advance(time.Nanosecond)
	res, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Cached: 1, Backend: 1}, res)

	again, err := m.Load(ctx, value)
	require.NoError(t, err)
	assert.True(t, again.IsNew())
}

func TestSweep_Cancelled(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, Config{Lifetime: time.Hour}, WithClock(clock.Now))
	ctx := context.Background()

	for range 3 {
		h, err := m.Load(ctx, "")
		require.NoError(t, err)
		flushCookie(t, m, h)
	}
	clock.Advance(2 * time.Hour)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	res, err := m.Sweep(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Cached)
	assert.Equal(t, 3, m.cache.len(), "nothing half-removed")
}

func TestSweep_WaitsForRecordLock(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, Config{Lifetime: time.Hour}, WithClock(clock.Now))
	ctx := context.Background()

	h, err := m.Load(ctx, "")
	require.NoError(t, err)
	flushCookie(t, m, h)
	clock.Advance(2 * time.Hour)

	unlock, err := m.locks.Lock(ctx, h.ID())
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = m.Sweep(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, m.cache.len())

	unlock()
	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cached)
}

func TestSweeper_Background(t *testing.T) {
	backend := newSpyBackend()
	m := newTestManager(t, Config{Lifetime: 20 * time.Millisecond, CleanupInterval: 10 * time.Millisecond},
		WithBackend(backend))
	ctx := context.Background()

	h, err := m.Load(ctx, "")
	require.NoError(t, err)
	flushCookie(t, m, h)

	assert.Eventually(t, func() bool {
		return m.cache.len() == 0 && backend.cleanups.Load() > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	cleanups := backend.cleanups.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, cleanups, backend.cleanups.Load(), "sweeper must stop on Close")
}

func TestSweeper_StartsByDefault(t *testing.T) {
	m := newTestManager(t, Config{})
	require.NotNil(t, m.sweeper)
	assert.Equal(t, time.Hour, m.cfg.CleanupInterval)
}

func TestSweeper_DisabledWithNegativeInterval(t *testing.T) {
	m := newTestManager(t, Config{CleanupInterval: -1})
	assert.Nil(t, m.sweeper)
}
