package pipecache

import (
	"bytes"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const (
	// shardCount must be a power of 2 for fast modulo via bitwise AND.
	shardCount = 16
	shardMask  = shardCount - 1
)

// memory is a sharded, byte-budgeted LRU in front of the file store.
// Each shard owns budget/shardCount bytes; blobs larger than a shard's
// budget bypass the memory tier.
type memory struct {
	shards      [shardCount]*memShard
	shardBudget int64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type memShard struct {
	mu      sync.Mutex
	entries map[string]*entry
	lru     recency
	bytes   int64
}

func newMemory(budget int64) *memory {
	m := &memory{shardBudget: budget / shardCount}
	for i := range m.shards {
		m.shards[i] = &memShard{entries: make(map[string]*entry)}
	}
	return m
}

func (m *memory) shard(key string) *memShard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key)) // fnv.Write never returns an error
	return m.shards[h.Sum64()&shardMask]
}

// get returns a copy of the cached blob.
func (m *memory) get(key string) ([]byte, bool) {
	s := m.shard(key)
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		m.misses.Add(1)
		return nil, false
	}
	s.lru.moveToFront(e)
	blob := bytes.Clone(e.blob)
	s.mu.Unlock()

	m.hits.Add(1)
	return blob, true
}

// put stores a private copy of blob, evicting least recently used
// entries until the shard fits its budget.
func (m *memory) put(key string, blob []byte) {
	size := int64(len(blob))
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		s.lru.remove(e)
		delete(s.entries, key)
		s.bytes -= int64(len(e.blob))
	}
	if m.shardBudget <= 0 || size > m.shardBudget {
		return
	}
	for s.bytes+size > m.shardBudget {
		old := s.lru.popBack()
		if old == nil {
			break
		}
		delete(s.entries, old.key)
		s.bytes -= int64(len(old.blob))
		m.evictions.Add(1)
	}

	e := &entry{key: key, blob: bytes.Clone(blob)}
	s.lru.pushFront(e)
	s.entries[key] = e
	s.bytes += size
}

func (m *memory) drop(key string) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		s.lru.remove(e)
		delete(s.entries, key)
		s.bytes -= int64(len(e.blob))
	}
}

// usage returns the resident entry count and byte total.
func (m *memory) usage() (n int, size int64) {
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.entries)
		size += s.bytes
		s.mu.Unlock()
	}
	return n, size
}
