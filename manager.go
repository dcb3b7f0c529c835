package sessionstore

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Manager resolves sessions for requests and flushes them back. It is safe
// for concurrent use.
type Manager struct {
	cfg         Config
	backend     Backend
	backendName string
	cookies     *CookieCodec
	cache       *cache
	locks       *lockTable
	codec       Codec
	logger      *slog.Logger
	metrics     *metrics
	registerer  prometheus.Registerer
	now         func() time.Time
	sweeper     *sweeper
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackend sets the durable backend. It is ignored when Config.MemoryOnly is set.
func WithBackend(b Backend) Option {
	return func(m *Manager) {
		m.backend = b
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRegisterer registers the manager's Prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.registerer = reg
	}
}

// WithCodec sets the codec used by Handle.Encode and Handle.Decode. JSON by default.
func WithCodec(c Codec) Option {
	return func(m *Manager) {
		if c.Marshal != nil && c.Unmarshal != nil {
			m.codec = c
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a Manager and starts its expiration sweeper unless
// cfg.CleanupInterval is negative.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cookies, err := NewCookieCodec(cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		cookies: cookies,
		cache:   newCache(),
		locks:   newLockTable(),
		codec:   JSON,
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if cfg.MemoryOnly && m.backend != nil {
		m.logger.Debug("memory-only mode, backend ignored", slog.String("backend", backendName(m.backend)))
		m.backend = nil
	}
	if m.backend == nil {
		m.cfg.MemoryOnly = true
	}
	m.backendName = backendName(m.backend)

	m.metrics = newMetrics(func() float64 { return float64(m.cache.len()) })
	if m.registerer != nil {
		if err := m.metrics.register(m.registerer); err != nil {
			return nil, err
		}
	}

	if cfg.CleanupInterval > 0 {
		m.sweeper = newSweeper(m, cfg.CleanupInterval)
		m.sweeper.start()
	}
	return m, nil
}

// Close stops the sweeper. The backend belongs to the caller and stays open.
func (m *Manager) Close() error {
	if m.sweeper != nil {
		m.sweeper.stop()
	}
	return nil
}

// Cookies exposes the cookie codec.
func (m *Manager) Cookies() *CookieCodec {
	return m.cookies
}

// Get resolves the session for r from its cookie.
func (m *Manager) Get(r *http.Request) (*Handle, error) {
	var value string
	if c, err := r.Cookie(m.cookies.Name()); err == nil {
		value = c.Value
	}
	return m.Load(r.Context(), value)
}

// Load resolves the session carried by a raw cookie value. Missing, invalid
// and tampered cookies, unknown ids and expired sessions all yield a fresh
// session. A backend failure does too unless Config.Strict is set.
func (m *Manager) Load(ctx context.Context, cookieValue string) (*Handle, error) {
	id, err := m.cookies.Decode(cookieValue)
	if err != nil {
		if errors.Is(err, ErrCookieTampered) {
			m.logger.Warn("tampered session cookie", slog.Any("error", err))
		}
		return m.fresh()
	}

	r, err := m.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return m.fresh()
	}
	return newHandle(m, r, false), nil
}

func (m *Manager) resolve(ctx context.Context, id string) (*Record, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := m.now()
	if r := m.cache.get(id); r != nil {
		if !r.Expired(now) {
			return r, nil
		}
		m.cache.remove(id)
		return nil, nil
	}
	if m.backend == nil {
		return nil, nil
	}

	var r *Record
	err = m.backendCall(ctx, "load", func(ctx context.Context) error {
		var err error
		r, err = m.backend.Load(ctx, id)
		return err
	})
	if err != nil {
		m.metrics.loadFailures.Inc()
		if m.cfg.Strict {
			return nil, err
		}
		m.logger.Warn("session load failed, starting a fresh session",
			slog.String("session", shortID(id)), slog.Any("error", err))
		return nil, nil
	}
	if r == nil || r.ID != id || r.Expired(now) {
		return nil, nil
	}
	m.cache.insert(r)
	return r, nil
}

func (m *Manager) newRecord(now time.Time) (*Record, error) {
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:        id,
		Data:      make(map[string][]byte),
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.Lifetime),
		StoreID:   uuid.NewString(),
	}, nil
}

func (m *Manager) fresh() (*Handle, error) {
	r, err := m.newRecord(m.now())
	if err != nil {
		return nil, err
	}
	m.metrics.created.Inc()

	if limit := m.cfg.MaxSessions; limit > 0 && m.cache.len() >= limit {
		m.metrics.capacityExceeded.Inc()
		m.logger.Warn("session soft cap reached",
			slog.Int("cached", m.cache.len()), slog.Int("max", limit), slog.Any("error", ErrCapacityExceeded))
	}
	return newHandle(m, r, true), nil
}

// Flush persists the handle's changes and returns the cookie to send, or nil
// when nothing changed. For a destroyed handle the cookie is a removal
// directive, returned even when the backend delete failed.
func (m *Manager) Flush(ctx context.Context, h *Handle) (*http.Cookie, error) {
	return m.flush(ctx, h, nil)
}

// Save flushes h and writes the resulting cookie to w.
func (m *Manager) Save(w http.ResponseWriter, r *http.Request, h *Handle) error {
	c, err := m.flush(r.Context(), h, r)
	if c != nil {
		http.SetCookie(w, c)
	}
	return err
}

// Destroy destroys the session and clears the client cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request, h *Handle) error {
	h.Destroy()
	return m.Save(w, r, h)
}

func (m *Manager) flush(ctx context.Context, h *Handle, req *http.Request) (*http.Cookie, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHandleClosed
	}
	if h.destroyed {
		return m.destroy(ctx, h, req)
	}
	if !h.dirty && len(h.changes) == 0 {
		return nil, nil
	}

	id := h.view.ID
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := m.now()
	base, stored := m.current(h, id, now)
	if !h.dirty {
		// Only writes of values this request already saw. They count when
		// another request changed those keys since the load.
		if base == nil || equalData(h.apply(base).Data, base.Data) {
			h.changes = make(map[string]change)
			return nil, nil
		}
	}
	if base == nil {
		// Expired or destroyed while this request ran: expired ids are never
		// reused, so the changes move to a brand-new session.
		if base, err = m.newRecord(now); err != nil {
			return nil, err
		}
		m.logger.Debug("session vanished before flush, reissuing",
			slog.String("old", shortID(id)), slog.String("new", shortID(base.ID)))
	}

	next := h.apply(base)
	next.ExpiresAt = now.Add(m.cfg.lifetime(next.Longterm))

	var oldID string
	if h.renew {
		newID, err := generateID()
		if err != nil {
			return nil, err
		}
		oldID, next.ID = next.ID, newID
	}

	if m.cfg.MaxSessionBytes > 0 {
		blob, err := encodeData(next.Data)
		if err != nil {
			return nil, err
		}
		if len(blob) > m.cfg.MaxSessionBytes {
			m.metrics.flushes.WithLabelValues("too_large").Inc()
			return nil, ErrSessionTooLarge
		}
	}

	persist := m.backend != nil && (m.cfg.Mode == ModePersistent || next.Storable)
	if persist {
		if err := m.backendCall(ctx, "save", func(ctx context.Context) error {
			return m.backend.Save(ctx, next)
		}); err != nil {
			m.metrics.flushes.WithLabelValues("error").Inc()
			m.logger.Error("session flush failed", slog.String("session", shortID(next.ID)), slog.Any("error", err))
			return nil, err
		}
	}

	// The durable copy under the previous id goes away on renewal, and in
	// opt-in mode when the client withdrew consent.
	staleID := ""
	switch {
	case oldID != "" && stored:
		staleID = oldID
	case oldID == "" && stored && !persist:
		staleID = next.ID
	}
	if staleID != "" && m.backend != nil {
		if err := m.backendCall(ctx, "delete", func(ctx context.Context) error {
			return m.backend.Delete(ctx, staleID)
		}); err != nil {
			m.metrics.flushes.WithLabelValues("error").Inc()
			if oldID != "" {
				// Fail closed: neither id may stay usable.
				if persist {
					_ = m.backendCall(ctx, "delete", func(ctx context.Context) error {
						return m.backend.Delete(ctx, next.ID)
					})
				}
				m.cache.remove(oldID)
				h.closed = true
				return m.cookies.RemovalCookie(req), err
			}
			return nil, err
		}
	}

	if oldID != "" {
		m.cache.remove(oldID)
	}
	m.cache.insert(next)
	h.commit(next)
	m.metrics.flushes.WithLabelValues("ok").Inc()

	value, err := m.cookies.Encode(next.ID)
	if err != nil {
		return nil, err
	}
	return m.cookies.Cookie(value, next.ExpiresAt, now, req), nil
}

// current returns the live record for id and whether a durable copy of it
// exists. Callers hold the lock for id.
func (m *Manager) current(h *Handle, id string, now time.Time) (*Record, bool) {
	if h.isNew {
		return h.view.Clone(), false
	}
	r := m.cache.get(id)
	if r == nil || r.Expired(now) {
		return nil, false
	}
	stored := m.backend != nil && (m.cfg.Mode == ModePersistent || r.Storable)
	return r, stored
}

func (m *Manager) destroy(ctx context.Context, h *Handle, req *http.Request) (*http.Cookie, error) {
	id := h.view.ID
	cookie := m.cookies.RemovalCookie(req)

	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return cookie, err
	}
	defer unlock()

	h.closed = true
	// Wipe the request's copy regardless of what the backend says.
	clear(h.view.Data)
	m.cache.remove(id)
	m.metrics.destroyed.Inc()

	if h.isNew || m.backend == nil {
		return cookie, nil
	}
	if err := m.backendCall(ctx, "delete", func(ctx context.Context) error {
		return m.backend.Delete(ctx, id)
	}); err != nil {
		m.logger.Error("session destroy failed", slog.String("session", shortID(id)), slog.Any("error", err))
		return cookie, err
	}
	return cookie, nil
}

// Count returns the number of sessions: the backend's count in durable
// mode, the cached sessions that have not expired otherwise.
func (m *Manager) Count(ctx context.Context) (int, error) {
	if m.backend == nil {
		return m.cache.live(m.now()), nil
	}
	var n int
	err := m.backendCall(ctx, "count", func(ctx context.Context) error {
		var err error
		n, err = m.backend.Count(ctx)
		return err
	})
	return n, err
}
