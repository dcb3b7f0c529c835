package sessionstore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const numShards = 64

type cacheShard struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// cache splits records across shards so requests for unrelated sessions
// don't contend on one lock. It stores private copies: nothing handed out
// aliases a cached map.
type cache struct {
	shards [numShards]cacheShard
	count  atomic.Int64
}

func newCache() *cache {
	c := &cache{}
	for i := range c.shards {
		c.shards[i].records = make(map[string]*Record)
	}
	return c
}

func shardIndex(id string) uint64 {
	return xxhash.Sum64String(id) & (numShards - 1)
}

func (c *cache) shard(id string) *cacheShard {
	return &c.shards[shardIndex(id)]
}

func (c *cache) get(id string) *Record {
	s := c.shard(id)
	s.mu.RLock()
	r := s.records[id]
	s.mu.RUnlock()
	return r.Clone()
}

func (c *cache) insert(r *Record) {
	cp := r.Clone()
	s := c.shard(r.ID)
	s.mu.Lock()
	if _, exists := s.records[r.ID]; !exists {
		c.count.Add(1)
	}
	s.records[r.ID] = cp
	s.mu.Unlock()
}

func (c *cache) remove(id string) bool {
	s := c.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; exists {
		delete(s.records, id)
		c.count.Add(-1)
		return true
	}
	return false
}

func (c *cache) len() int {
	return int(c.count.Load())
}

// expired collects ids a sweep at now removes, holding one shard read
// lock at a time.
func (c *cache) expired(now time.Time) []string {
	var ids []string
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for id, r := range s.records {
			if r.pastDue(now) {
				ids = append(ids, id)
			}
		}
		s.mu.RUnlock()
	}
	return ids
}

// removeIfExpired drops the record for id when it is still past due at now.
func (c *cache) removeIfExpired(id string, now time.Time) bool {
	s := c.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok || !r.pastDue(now) {
		return false
	}
	delete(s.records, id)
	c.count.Add(-1)
	return true
}

// live counts the records that have not expired at now.
func (c *cache) live(now time.Time) int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for _, r := range s.records {
			if !r.Expired(now) {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}
