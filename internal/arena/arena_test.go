package arena

import (
	"sync"
	"testing"
)

func TestArenaInsertGet(t *testing.T) {
	a := New[string]()

	id := a.Insert("buffer")
	if !id.IsValid() {
		t.Fatal("Insert returned invalid ID")
	}
	got, ok := a.Get(id)
	if !ok || got != "buffer" {
		t.Errorf("Get(%v) = %q, %v; want %q, true", id, got, ok, "buffer")
	}
	if a.Len() != 1 {
		t.Errorf("Len() = %d, want 1", a.Len())
	}
}

func TestArenaInvalidID(t *testing.T) {
	a := New[int]()
	if _, ok := a.Get(Invalid); ok {
		t.Error("Get(Invalid) should fail")
	}
	if _, ok := a.Remove(Invalid); ok {
		t.Error("Remove(Invalid) should fail")
	}
	if Invalid.String() != "invalid" {
		t.Errorf("Invalid.String() = %q", Invalid.String())
	}
}

func TestArenaStaleID(t *testing.T) {
	a := New[int]()

	// Round-robin placement lands one of the next ShardCount inserts
	// on the freed slot.
	first := a.Insert(1)
	if _, ok := a.Remove(first); !ok {
		t.Fatal("Remove failed")
	}
	if a.Contains(first) {
		t.Error("removed ID still resolves")
	}

	var reused ID
	for i := 0; i < ShardCount; i++ {
		id := a.Insert(100 + i)
		if id.Shard() == first.Shard() && id.Slot() == first.Slot() {
			reused = id
		}
	}
	if reused == Invalid {
		t.Fatal("freed slot was not reused")
	}
	if reused.Generation() == first.Generation() {
		t.Errorf("generation not bumped: %d", reused.Generation())
	}
	if _, ok := a.Get(first); ok {
		t.Error("stale ID resolved to the reused slot")
	}
	if a.Stats().Stale == 0 {
		t.Error("stale lookups not counted")
	}
}

func TestArenaRemoveTwice(t *testing.T) {
	a := New[int]()
	id := a.Insert(7)

	v, ok := a.Remove(id)
	if !ok || v != 7 {
		t.Fatalf("Remove = %d, %v; want 7, true", v, ok)
	}
	if _, ok := a.Remove(id); ok {
		t.Error("second Remove should fail")
	}
	st := a.Stats()
	if st.Inserted != 1 || st.Removed != 1 || st.Live != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestArenaSnapshot(t *testing.T) {
	a := New[int]()
	want := map[ID]int{}
	for i := 0; i < 40; i++ {
		want[a.Insert(i)] = i
	}
	ids, values := a.Snapshot()
	if len(ids) != len(want) || len(values) != len(want) {
		t.Fatalf("Snapshot returned %d/%d entries, want %d", len(ids), len(values), len(want))
	}
	for i, id := range ids {
		if want[id] != values[i] {
			t.Errorf("Snapshot[%v] = %d, want %d", id, values[i], want[id])
		}
	}
}

func TestArenaShardLen(t *testing.T) {
	a := New[int]()
	for i := 0; i < ShardCount*4; i++ {
		a.Insert(i)
	}
	for i, n := range a.ShardLen() {
		if n != 4 {
			t.Errorf("shard %d has %d entries, want 4", i, n)
		}
	}
}

func TestArenaConcurrent(t *testing.T) {
	a := New[int]()
	const workers, perWorker = 8, 500

	var wg sync.WaitGroup
	results := make([][]ID, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				results[w] = append(results[w], a.Insert(w*perWorker+j))
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[ID]bool, workers*perWorker)
	for w, ids := range results {
		for j, id := range ids {
			if seen[id] {
				t.Fatalf("duplicate ID %v", id)
			}
			seen[id] = true
			if v, ok := a.Get(id); !ok || v != w*perWorker+j {
				t.Fatalf("Get(%v) = %d, %v", id, v, ok)
			}
		}
	}
	if a.Len() != workers*perWorker {
		t.Errorf("Len() = %d, want %d", a.Len(), workers*perWorker)
	}
}
