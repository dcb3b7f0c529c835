package sessionstore

import (
	"bytes"
	"slices"
	"sync"
	"time"
)

type change struct {
	value   []byte
	deleted bool
}

// Handle is a request's view of one session. Reads see the state at load
// time plus the request's own changes; changes are only merged into the
// shared record when the handle is flushed, so an aborted request leaves no
// trace. A Handle is safe for concurrent use by the goroutines serving one
// request.
type Handle struct {
	mu sync.Mutex
	m  *Manager

	view    *Record
	isNew   bool
	changes map[string]change
	cleared bool

	longterm *bool
	storable *bool

	dirty     bool
	renew     bool
	destroyed bool
	closed    bool
}

func newHandle(m *Manager, r *Record, isNew bool) *Handle {
	return &Handle{
		m:       m,
		view:    r,
		isNew:   isNew,
		changes: make(map[string]change),
		dirty:   isNew,
	}
}

// ID returns the current session id. It changes after a renewed handle is flushed.
func (h *Handle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view.ID
}

// IsNew reports whether the session was created for this request and has not been flushed yet.
func (h *Handle) IsNew() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isNew
}

// ExpiresAt returns the expiry recorded at load time or by the last flush.
func (h *Handle) ExpiresAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view.ExpiresAt
}

// Get returns a copy of the value stored under key.
func (h *Handle) Get(key string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.view.Data[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

// Set stores value under key. Setting the value the handle already sees
// does not make it dirty, but the write is kept: if another request changed
// key in the meantime, flushing this handle restores value.
func (h *Handle) Set(key string, value []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return
	}
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	h.changes[key] = change{value: v}
	if cur, ok := h.view.Data[key]; ok && bytes.Equal(cur, v) {
		return
	}
	h.view.Data[key] = v
	h.dirty = true
}

// Remove deletes key.
func (h *Handle) Remove(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(key)
}

func (h *Handle) removeLocked(key string) {
	if h.destroyed {
		return
	}
	delete(h.view.Data, key)
	h.changes[key] = change{deleted: true}
	h.dirty = true
}

// Take returns the value under key and removes it. A destroyed handle holds nothing.
func (h *Handle) Take(key string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return nil, false
	}
	v, ok := h.view.Data[key]
	if !ok {
		return nil, false
	}
	h.removeLocked(key)
	return v, true
}

// Clear removes every key.
func (h *Handle) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clearLocked()
}

func (h *Handle) clearLocked() {
	if h.destroyed {
		return
	}
	h.view.Data = make(map[string][]byte)
	h.changes = make(map[string]change)
	h.cleared = true
	h.dirty = true
}

// Keys returns the stored keys in sorted order.
func (h *Handle) Keys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.view.Data))
	for k := range h.view.Data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Encode marshals v with the manager's codec and stores it under key.
func (h *Handle) Encode(key string, v any) error {
	b, err := h.m.codec.Marshal(v)
	if err != nil {
		return err
	}
	h.Set(key, b)
	return nil
}

// Decode unmarshals the value under key into v. It returns ErrNotFound
// when the key is absent.
func (h *Handle) Decode(key string, v any) error {
	b, ok := h.Get(key)
	if !ok {
		return ErrNotFound
	}
	return h.m.codec.Unmarshal(b, v)
}

// Renew asks for a new session id on the next flush. With
// Config.ClearOnRenew the data is dropped as well; values set after Renew
// are kept.
func (h *Handle) Renew() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return
	}
	if h.m.cfg.ClearOnRenew {
		h.clearLocked()
	}
	h.renew = true
	h.dirty = true
}

// Destroy marks the session for removal on the next flush.
func (h *Handle) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = true
}

// SetLongterm switches between the regular and the long-term lifetime.
func (h *Handle) SetLongterm(longterm bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed || h.view.Longterm == longterm {
		return
	}
	h.view.Longterm = longterm
	h.longterm = &longterm
	h.dirty = true
}

// Longterm reports whether the session uses the long-term lifetime.
func (h *Handle) Longterm() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view.Longterm
}

// SetStorable records whether the client agreed to have the session
// persisted. Only meaningful in ModeOptIn.
func (h *Handle) SetStorable(storable bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed || h.view.Storable == storable {
		return
	}
	h.view.Storable = storable
	h.storable = &storable
	h.dirty = true
}

// Storable reports the storable flag.
func (h *Handle) Storable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view.Storable
}

// Dirty reports whether the handle holds changes that have not been flushed.
func (h *Handle) Dirty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirty
}

// Destroyed reports whether Destroy was called.
func (h *Handle) Destroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

// apply merges the handle's changes into a copy of base. Callers hold h.mu.
func (h *Handle) apply(base *Record) *Record {
	next := base.Clone()
	if h.cleared {
		next.Data = make(map[string][]byte)
	}
	for k, c := range h.changes {
		if c.deleted {
			delete(next.Data, k)
			continue
		}
		next.Data[k] = bytes.Clone(c.value)
	}
	if h.longterm != nil {
		next.Longterm = *h.longterm
	}
	if h.storable != nil {
		next.Storable = *h.storable
	}
	return next
}

// commit resets the change set after a successful flush. Callers hold h.mu.
func (h *Handle) commit(saved *Record) {
	h.view = saved.Clone()
	h.isNew = false
	h.changes = make(map[string]change)
	h.cleared = false
	h.longterm = nil
	h.storable = nil
	h.renew = false
	h.dirty = false
}
