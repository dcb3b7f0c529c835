package sessionstore

import (
	"context"
	"sync"
)

// lockEntry is a context-aware mutex with a reference count so unused
// entries can be garbage collected.
type lockEntry struct {
	ch   chan struct{}
	refs int
}

type lockShard struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// lockTable provides per-session mutual exclusion. The shard mutex only
// guards the entry map and is never held while waiting for an entry.
type lockTable struct {
	shards [numShards]lockShard
}

func newLockTable() *lockTable {
	t := &lockTable{}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]*lockEntry)
	}
	return t
}

func (t *lockTable) acquire(id string) *lockEntry {
	s := &t.shards[shardIndex(id)]
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		s.entries[id] = e
	}
	e.refs++
	return e
}

func (t *lockTable) release(id string) {
	s := &t.shards[shardIndex(id)]
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(s.entries, id)
	}
}

// Lock blocks until the lock for id is held or ctx is done. The returned
// func releases it.
func (t *lockTable) Lock(ctx context.Context, id string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := t.acquire(id)
	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		t.release(id)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			t.release(id)
		})
	}, nil
}

// size reports how many ids currently have a live entry.
func (t *lockTable) size() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
