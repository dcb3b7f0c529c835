package sessionstore

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweepResult counts what one sweep removed.
type SweepResult struct {
	Cached  int
	Backend int
}

// sweeper periodically removes expired sessions. It owns its goroutine and
// stops when its context is cancelled.
type sweeper struct {
	m        *Manager
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newSweeper(m *Manager, interval time.Duration) *sweeper {
	return &sweeper{m: m, interval: interval}
}

func (s *sweeper) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.m.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				s.m.logger.Warn("session sweep failed", slog.Any("error", err))
				continue
			}
			s.m.logger.Debug("session sweep finished",
				slog.Int("cached", res.Cached), slog.Int("backend", res.Backend))
		case <-ctx.Done():
			return
		}
	}
}

// stop cancels an in-flight sweep and waits for the goroutine to exit.
func (s *sweeper) stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// Sweep removes expired sessions from the cache, taking each session's
// lock before removing it, then asks the backend to drop its expired
// records. A cancelled ctx stops the sweep between records.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := m.now()

	for _, id := range m.cache.expired(now) {
		unlock, err := m.locks.Lock(ctx, id)
		if err != nil {
			m.metrics.swept.WithLabelValues("cache").Add(float64(res.Cached))
			return res, err
		}
		if m.cache.removeIfExpired(id, now) {
			res.Cached++
		}
		unlock()
	}
	m.metrics.swept.WithLabelValues("cache").Add(float64(res.Cached))

	if m.backend == nil {
		return res, nil
	}
	err := m.backendCall(ctx, "cleanup", func(ctx context.Context) error {
		n, err := m.backend.CleanupExpired(ctx, now)
		res.Backend = n
		return err
	})
	m.metrics.swept.WithLabelValues("backend").Add(float64(res.Backend))
	return res, err
}
