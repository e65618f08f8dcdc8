package track

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

type use struct {
	region Region
	usage  Usage
}

// Scope is the set of resource uses inside one unsynchronized window.
// It is not safe for concurrent use.
type Scope struct {
	uses  map[Key][]use
	order []Key
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{uses: make(map[Key][]use)}
}

// Check reports whether adding (key, region, usage) would conflict with
// a use already in the scope, without recording anything.
func (s *Scope) Check(key Key, region Region, usage Usage) error {
	for _, u := range s.uses[key] {
		if !u.region.Overlaps(region) {
			continue
		}
		if !u.usage.Compatible(usage) {
			return fmt.Errorf("%w: %s used as %s and %s on overlapping range", ErrHazard, key, u.usage, usage)
		}
	}
	return nil
}

// Use records a use of key. On conflict the scope is left unchanged.
func (s *Scope) Use(key Key, region Region, usage Usage) error {
	if usage == UsageNone || region.Empty() {
		return nil
	}
	if err := s.Check(key, region, usage); err != nil {
		return err
	}
	if _, ok := s.uses[key]; !ok {
		s.order = append(s.order, key)
	}
	s.uses[key] = append(s.uses[key], use{region: region, usage: usage})
	return nil
}

// Usage returns the union of all uses of key in the scope.
func (s *Scope) Usage(key Key) Usage {
	var u Usage
	for _, x := range s.uses[key] {
		u |= x.usage
	}
	return u
}

// Keys returns the resources touched by the scope in first-use order.
func (s *Scope) Keys() []Key { return slices.Clone(s.order) }

// Len returns the number of distinct resources in the scope.
func (s *Scope) Len() int { return len(s.order) }

// Tracker strings together the scopes recorded by one encoder.
// It is not safe for concurrent use.
type Tracker struct {
	first   map[Key]Usage
	current map[Key]Usage
	scopes  int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		first:   make(map[Key]Usage),
		current: make(map[Key]Usage),
	}
}

// Merge appends a validated scope and returns the barriers that must
// execute before it. Resources touched for the first time produce no
// barrier here; their entry state is reconciled at submission.
func (t *Tracker) Merge(s *Scope) []Barrier {
	var out []Barrier
	for _, key := range s.order {
		next := s.Usage(key)
		prev, seen := t.current[key]
		if !seen {
			t.first[key] = next
		} else if NeedsBarrier(prev, next) {
			out = append(out, Barrier{Key: key, From: prev, To: next})
		}
		t.current[key] = next
	}
	t.scopes++
	return out
}

// Scopes returns the number of merged scopes.
func (t *Tracker) Scopes() int { return t.scopes }

// Usages returns the entry and exit state of every touched resource.
func (t *Tracker) Usages() Usages {
	return Usages{First: maps.Clone(t.first), Last: maps.Clone(t.current)}
}

// Usages is the entry and exit state of the resources one command
// buffer touches.
type Usages struct {
	First map[Key]Usage
	Last  map[Key]Usage
}

// State is the device-wide view of every resource's current usage and
// the last submission that touched it. It is safe for concurrent use.
type State struct {
	mu      sync.Mutex
	usage   map[Key]Usage
	lastSub map[Key]uint64
}

// NewState returns an empty device state.
func NewState() *State {
	return &State{
		usage:   make(map[Key]Usage),
		lastSub: make(map[Key]uint64),
	}
}

// Plan returns, for each command buffer in list, the barriers that must
// execute before it. It does not modify the state.
func (s *State) Plan(list []Usages) [][]Barrier {
	s.mu.Lock()
	defer s.mu.Unlock()

	overlay := make(map[Key]Usage)
	out := make([][]Barrier, len(list))
	for i, u := range list {
		keys := slices.SortedFunc(maps.Keys(u.First), compareKeys)
		for _, key := range keys {
			next := u.First[key]
			prev, ok := overlay[key]
			if !ok {
				prev = s.usage[key]
			}
			if NeedsBarrier(prev, next) {
				out[i] = append(out[i], Barrier{Key: key, From: prev, To: next})
			}
		}
		for key, last := range u.Last {
			overlay[key] = last
		}
	}
	return out
}

// Commit records the exit state of every command buffer in list and
// stamps the touched resources with submission.
func (s *State) Commit(list []Usages, submission uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range list {
		for key, last := range u.Last {
			s.usage[key] = last
			s.lastSub[key] = submission
		}
	}
}

// Usage returns the current usage of key.
func (s *State) Usage(key Key) Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[key]
}

// LastSubmission returns the last submission that touched key, or 0.
func (s *State) LastSubmission(key Key) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSub[key]
}

// Forget drops key once its resource is destroyed.
func (s *State) Forget(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.usage, key)
	delete(s.lastSub, key)
}

// Len returns the number of resources the state knows about.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.usage)
}
