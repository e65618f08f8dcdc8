// Package arena provides a sharded, generation-checked resource table.
//
// Every value inserted into an Arena receives an ID that packs a slot index
// and a generation counter. Removing a value bumps the slot's generation, so
// a stale ID held elsewhere (for example a texture view pointing at its
// texture) is detected deterministically instead of aliasing whatever value
// reuses the slot later.
package arena

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Default configuration constants.
const (
	// ShardCount is the number of shards for reduced lock contention.
	// Must be a power of 2 for fast modulo via bitwise AND.
	ShardCount = 16

	// shardBits is log2(ShardCount).
	shardBits = 4

	// shardMask is used for fast shard selection (ShardCount - 1).
	shardMask = ShardCount - 1
)

// ID identifies a value stored in an Arena.
//
// The low 32 bits hold the slot index (shard in the low shardBits bits),
// the high 32 bits hold the generation. Generations start at 1, so the
// zero ID is never issued and can be used as "invalid".
type ID uint64

// Invalid is the zero ID.
const Invalid ID = 0

func makeID(shard, slot, gen uint32) ID {
	return ID(uint64(gen)<<32 | uint64(slot<<shardBits|shard))
}

// Shard returns the shard index encoded in the ID.
func (id ID) Shard() uint32 { return uint32(id) & shardMask }

// Slot returns the slot index within the shard.
func (id ID) Slot() uint32 { return uint32(id) >> shardBits }

// Generation returns the generation encoded in the ID.
func (id ID) Generation() uint32 { return uint32(id >> 32) }

// IsValid reports whether the ID is non-zero.
func (id ID) IsValid() bool { return id != Invalid }

// String formats the ID as index@generation for logs.
func (id ID) String() string {
	if id == Invalid {
		return "invalid"
	}
	return fmt.Sprintf("%d@%d", uint32(id), id.Generation())
}

// Stats holds arena counters.
type Stats struct {
	Live     int
	Inserted uint64
	Removed  uint64
	Stale    uint64
}

// Arena is a thread-safe table of values addressed by generation-checked IDs.
//
// Features:
//   - 16 shards; concurrent inserts land on different shards round-robin
//   - freed slots are reused, their generation is bumped on removal
//   - atomic statistics for monitoring
type Arena[T any] struct {
	shards [ShardCount]*shard[T]
	next   atomic.Uint32

	inserted atomic.Uint64
	removed  atomic.Uint64
	stale    atomic.Uint64
}

// shard is a single shard of the arena.
// Each shard has its own mutex for reduced contention.
type shard[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  []uint32
	live  int
}

type slot[T any] struct {
	gen      uint32
	occupied bool
	value    T
}

// New creates an empty arena.
func New[T any]() *Arena[T] {
	a := &Arena[T]{}
	for i := range a.shards {
		a.shards[i] = &shard[T]{}
	}
	return a
}

// Insert stores v and returns its ID.
func (a *Arena[T]) Insert(v T) ID {
	si := a.next.Add(1) & shardMask
	s := a.shards[si]

	s.mu.Lock()
	defer s.mu.Unlock()

	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, slot[T]{gen: 1})
	}
	sl := &s.slots[idx]
	sl.occupied = true
	sl.value = v
	s.live++

	a.inserted.Add(1)
	return makeID(si, idx, sl.gen)
}

// lookup returns the slot for id or nil. The caller must hold s.mu.
func (s *shard[T]) lookup(id ID) *slot[T] {
	idx := id.Slot()
	if int(idx) >= len(s.slots) {
		return nil
	}
	sl := &s.slots[idx]
	if !sl.occupied || sl.gen != id.Generation() {
		return nil
	}
	return sl
}

// Get returns the value stored under id.
// Returns (zero, false) for invalid, removed or stale IDs.
func (a *Arena[T]) Get(id ID) (T, bool) {
	var zero T
	if id == Invalid {
		return zero, false
	}
	s := a.shards[id.Shard()]

	s.mu.RLock()
	sl := s.lookup(id)
	if sl == nil {
		s.mu.RUnlock()
		a.stale.Add(1)
		return zero, false
	}
	v := sl.value
	s.mu.RUnlock()
	return v, true
}

// Contains reports whether id refers to a live value.
func (a *Arena[T]) Contains(id ID) bool {
	_, ok := a.Get(id)
	return ok
}

// Remove deletes the value stored under id and returns it.
// The slot's generation is bumped so id can never resolve again.
func (a *Arena[T]) Remove(id ID) (T, bool) {
	var zero T
	if id == Invalid {
		return zero, false
	}
	s := a.shards[id.Shard()]

	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.lookup(id)
	if sl == nil {
		a.stale.Add(1)
		return zero, false
	}
	v := sl.value
	sl.value = zero
	sl.occupied = false
	sl.gen++
	if sl.gen == 0 {
		sl.gen = 1
	}
	s.free = append(s.free, id.Slot())
	s.live--

	a.removed.Add(1)
	return v, true
}

// Len returns the number of live values across all shards.
func (a *Arena[T]) Len() int {
	total := 0
	for _, s := range a.shards {
		s.mu.RLock()
		total += s.live
		s.mu.RUnlock()
	}
	return total
}

// ShardLen returns the number of live values in each shard.
// Useful for debugging load distribution.
func (a *Arena[T]) ShardLen() [ShardCount]int {
	var lens [ShardCount]int
	for i, s := range a.shards {
		s.mu.RLock()
		lens[i] = s.live
		s.mu.RUnlock()
	}
	return lens
}

// Snapshot returns the IDs and values live at the time of the call.
// Each shard is copied under its read lock; values inserted or removed
// concurrently may or may not be included.
func (a *Arena[T]) Snapshot() ([]ID, []T) {
	var ids []ID
	var values []T
	for si, s := range a.shards {
		s.mu.RLock()
		for idx := range s.slots {
			sl := &s.slots[idx]
			if !sl.occupied {
				continue
			}
			ids = append(ids, makeID(uint32(si), uint32(idx), sl.gen))
			values = append(values, sl.value)
		}
		s.mu.RUnlock()
	}
	return ids, values
}

// Stats returns current arena statistics.
func (a *Arena[T]) Stats() Stats {
	return Stats{
		Live:     a.Len(),
		Inserted: a.inserted.Load(),
		Removed:  a.removed.Load(),
		Stale:    a.stale.Load(),
	}
}
