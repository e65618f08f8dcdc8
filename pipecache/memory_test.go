package pipecache

import (
	"fmt"
	"testing"
)

// sameShardKeys returns n keys that hash to one shard.
func sameShardKeys(m *memory, n int) []string {
	var keys []string
	var target *memShard
	for i := 0; len(keys) < n; i++ {
		k := fmt.Sprintf("key%d", i)
		s := m.shard(k)
		if target == nil {
			target = s
		}
		if s == target {
			keys = append(keys, k)
		}
	}
	return keys
}

func TestMemoryEviction(t *testing.T) {
	m := newMemory(shardCount * 100)
	keys := sameShardKeys(m, 3)

	m.put(keys[0], make([]byte, 40))
	m.put(keys[1], make([]byte, 40))
	if _, ok := m.get(keys[0]); !ok {
		t.Fatal("first entry missing before the shard is full")
	}
	// keys[1] is now least recently used.
	m.put(keys[2], make([]byte, 40))

	if _, ok := m.get(keys[1]); ok {
		t.Error("least recently used entry survived eviction")
	}
	for _, k := range []string{keys[0], keys[2]} {
		if _, ok := m.get(k); !ok {
			t.Errorf("%s evicted, want resident", k)
		}
	}
	if got := m.evictions.Load(); got != 1 {
		t.Errorf("evictions = %d, want 1", got)
	}
	if n, size := m.usage(); n != 2 || size != 80 {
		t.Errorf("usage() = %d entries, %d bytes; want 2, 80", n, size)
	}
}

func TestMemoryReplaceAndOversize(t *testing.T) {
	m := newMemory(shardCount * 100)

	m.put("k", make([]byte, 30))
	m.put("k", make([]byte, 50))
	if n, size := m.usage(); n != 1 || size != 50 {
		t.Errorf("after replace usage() = %d, %d; want 1, 50", n, size)
	}

	m.put("k", make([]byte, 101))
	if _, ok := m.get("k"); ok {
		t.Error("blob larger than the shard budget was kept")
	}
	if n, _ := m.usage(); n != 0 {
		t.Errorf("usage() = %d entries, want 0", n)
	}
}

func TestMemoryDrop(t *testing.T) {
	m := newMemory(shardCount * 100)
	m.put("k", []byte{1})
	m.drop("k")
	m.drop("k")
	if _, ok := m.get("k"); ok {
		t.Error("dropped entry still resident")
	}
}

func TestRecency(t *testing.T) {
	var l recency
	a, b, c := &entry{key: "a"}, &entry{key: "b"}, &entry{key: "c"}
	l.pushFront(a)
	l.pushFront(b)
	l.pushFront(c)
	l.moveToFront(a)

	var order []string
	for e := l.popBack(); e != nil; e = l.popBack() {
		order = append(order, e.key)
	}
	if want := []string{"b", "c", "a"}; !equalStrings(order, want) {
		t.Errorf("eviction order = %v, want %v", order, want)
	}
	if l.len != 0 || l.head != nil || l.tail != nil {
		t.Errorf("list not empty after draining: %+v", l)
	}
}
