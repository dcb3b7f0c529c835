package sessionstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contractOptions relaxes the suite for backends that cannot offer every guarantee.
type contractOptions struct {
	// noCleanup: the server expires records itself and CleanupExpired reports 0.
	noCleanup bool
	// noCount: Count returns ErrCountUnsupported.
	noCount bool
}

func newTestID(tb testing.TB) string {
	tb.Helper()
	id, err := generateID()
	require.NoError(tb, err)
	return id
}

func newTestRecord(tb testing.TB, ttl time.Duration) *Record {
	tb.Helper()
	now := time.Now()
	return &Record{
		ID:        newTestID(tb),
		Data:      map[string][]byte{"user_id": []byte("42"), "theme": []byte("dark")},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		StoreID:   "c0ffee00-0000-4000-8000-000000000000",
	}
}

// runBackendContract checks the behaviour every Backend must share.
func runBackendContract(t *testing.T, b Backend, opts contractOptions) {
	ctx := context.Background()

	t.Run("save and load", func(t *testing.T) {
		r := newTestRecord(t, time.Hour)
		r.Longterm = true
		r.Storable = true
		require.NoError(t, b.Save(ctx, r))
		t.Cleanup(func() { _ = b.Delete(ctx, r.ID) })

		got, err := b.Load(ctx, r.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, r.ID, got.ID)
		assert.True(t, equalData(r.Data, got.Data), "data mismatch: %v", got.Data)
		assert.True(t, got.Longterm)
		assert.True(t, got.Storable)
		assert.Equal(t, r.StoreID, got.StoreID)
		assert.WithinDuration(t, r.ExpiresAt, got.ExpiresAt, time.Second)
		assert.WithinDuration(t, r.CreatedAt, got.CreatedAt, time.Second)
	})

	t.Run("save overwrites", func(t *testing.T) {
		r := newTestRecord(t, time.Hour)
		require.NoError(t, b.Save(ctx, r))
		t.Cleanup(func() { _ = b.Delete(ctx, r.ID) })

		r.Data = map[string][]byte{"user_id": []byte("7")}
		require.NoError(t, b.Save(ctx, r))

		got, err := b.Load(ctx, r.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, map[string][]byte{"user_id": []byte("7")}, got.Data)
	})

	t.Run("empty data", func(t *testing.T) {
		r := newTestRecord(t, time.Hour)
		r.Data = map[string][]byte{}
		require.NoError(t, b.Save(ctx, r))
		t.Cleanup(func() { _ = b.Delete(ctx, r.ID) })

		got, err := b.Load(ctx, r.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.NotNil(t, got.Data)
		assert.Empty(t, got.Data)
	})

	t.Run("missing record", func(t *testing.T) {
		got, err := b.Load(ctx, newTestID(t))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		r := newTestRecord(t, time.Hour)
		require.NoError(t, b.Save(ctx, r))

		require.NoError(t, b.Delete(ctx, r.ID))
		got, err := b.Load(ctx, r.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, b.Delete(ctx, r.ID))
	})

	t.Run("expired record is absent", func(t *testing.T) {
		r := newTestRecord(t, -time.Minute)
		require.NoError(t, b.Save(ctx, r))
		t.Cleanup(func() { _ = b.Delete(ctx, r.ID) })

		got, err := b.Load(ctx, r.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("invalid record", func(t *testing.T) {
		assert.ErrorIs(t, b.Save(ctx, nil), ErrInvalidSessionID)
		assert.ErrorIs(t, b.Save(ctx, &Record{}), ErrInvalidSessionID)
	})

	t.Run("cleanup removes exactly the expired records", func(t *testing.T) {
		// Leftovers from earlier runs against a shared server.
		_, err := b.CleanupExpired(ctx, time.Now())
		require.NoError(t, err)

		var live []*Record
		for range 3 {
			require.NoError(t, b.Save(ctx, newTestRecord(t, -time.Hour)))
		}
		for range 2 {
			r := newTestRecord(t, time.Hour)
			require.NoError(t, b.Save(ctx, r))
			live = append(live, r)
		}
		t.Cleanup(func() {
			for _, r := range live {
				_ = b.Delete(ctx, r.ID)
			}
		})

		n, err := b.CleanupExpired(ctx, time.Now())
		require.NoError(t, err)
		if opts.noCleanup {
			assert.Zero(t, n)
		} else {
			assert.Equal(t, 3, n)
		}

		for _, r := range live {
			got, err := b.Load(ctx, r.ID)
			require.NoError(t, err)
			assert.NotNil(t, got, "live record %s removed", r.ID)
		}

		n, err = b.CleanupExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("count", func(t *testing.T) {
		before, err := b.Count(ctx)
		if opts.noCount {
			assert.ErrorIs(t, err, ErrCountUnsupported)
			return
		}
		require.NoError(t, err)

		a, c := newTestRecord(t, time.Hour), newTestRecord(t, time.Hour)
		require.NoError(t, b.Save(ctx, a))
		require.NoError(t, b.Save(ctx, c))
		require.NoError(t, b.Save(ctx, a))

		after, err := b.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+2, after)

		require.NoError(t, b.Delete(ctx, a.ID))
		require.NoError(t, b.Delete(ctx, c.ID))
		after, err = b.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

// runMaxSessionBytes checks that a store built with limited refuses oversized
// records on save, and on load when unlimited wrote them.
func runMaxSessionBytes(t *testing.T, unlimited, limited Backend) {
	ctx := context.Background()
	r := newTestRecord(t, time.Hour)
	r.Data["blob"] = make([]byte, 1024)

	err := limited.Save(ctx, r)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionTooLarge), "got %v", err)

	require.NoError(t, unlimited.Save(ctx, r))
	t.Cleanup(func() { _ = unlimited.Delete(ctx, r.ID) })

	_, err = limited.Load(ctx, r.ID)
	assert.ErrorIs(t, err, ErrSessionTooLarge)
}

// runCleanupWithinTick saves a record that expires just after now but inside
// the same timestamp tick of the store, and checks cleanup at now keeps it.
func runCleanupWithinTick(t *testing.T, b Backend, tick time.Duration) {
	ctx := context.Background()
	base := time.Now().Add(time.Minute).Truncate(tick)
	now := base.Add(tick / 10)

	_, err := b.CleanupExpired(ctx, now)
	require.NoError(t, err)

	r := newTestRecord(t, time.Hour)
	r.ExpiresAt = base.Add(tick * 6 / 10)
	require.NoError(t, b.Save(ctx, r))
	t.Cleanup(func() { _ = b.Delete(ctx, r.ID) })

	n, err := b.CleanupExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "a live record was removed")

	got, err := b.Load(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.ExpiresAt.Before(r.ExpiresAt), "stored expiry %v before %v", got.ExpiresAt, r.ExpiresAt)
}
