package pipecache

// entry is a cached blob and its position in the shard's recency list.
// The list is intrusive so that a hit relinks without allocating.
type entry struct {
	key  string
	blob []byte
	prev *entry
	next *entry
}

// recency is a doubly-linked list ordered from most to least recently
// used. It is not safe for concurrent use; the owning shard locks it.
type recency struct {
	head *entry
	tail *entry
	len  int
}

// pushFront links e as the most recently used entry.
func (l *recency) pushFront(e *entry) {
	e.prev = nil
	e.next = l.head
	if l.head != nil {
		l.head.prev = e
	}
	l.head = e
	if l.tail == nil {
		l.tail = e
	}
	l.len++
}

func (l *recency) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nil, nil
	l.len--
}

func (l *recency) moveToFront(e *entry) {
	if e == l.head {
		return
	}
	l.remove(e)
	l.pushFront(e)
}

// popBack unlinks and returns the least recently used entry, or nil.
func (l *recency) popBack() *entry {
	e := l.tail
	if e == nil {
		return nil
	}
	l.remove(e)
	return e
}
