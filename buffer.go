package halcore

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore/internal/arena"
	"github.com/gogpu/halcore/internal/track"
)

// Buffer is a linear GPU allocation.
//
// The mapping state machine is Unmapped -> Pending -> Mapped -> Unmapped.
// A buffer is only mapped through MapAsync (or at creation) and only while
// no submission that uses it is outstanding; a buffer that is mapped or
// has a map pending cannot be submitted.
type Buffer struct {
	device *Device
	id     arena.ID
	raw    RawBuffer
	label  string
	size   uint64
	usage  gputypes.BufferUsage

	mu        sync.Mutex
	state     gputypes.BufferMapState
	mapMode   gputypes.MapMode
	mapOffset uint64
	mapped    []byte
	ranges    []*MappedRange
	pending   *MapRequest
	destroyed bool
}

// ID returns the buffer's arena identifier.
func (b *Buffer) ID() uint64 { return uint64(b.id) }

// Label returns the debug label.
func (b *Buffer) Label() string { return b.label }

// Size returns the size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Usage returns the usage flags the buffer was created with.
func (b *Buffer) Usage() gputypes.BufferUsage { return b.usage }

// MapState returns the current mapping state.
func (b *Buffer) MapState() gputypes.BufferMapState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Buffer) key() track.Key { return track.BufferKey(uint64(b.id)) }

func (b *Buffer) alive() bool { return b.device.buffers.Contains(b.id) }

// MapAsync requests host access to [offset, offset+size). A size of 0
// maps the rest of the buffer.
//
// The request resolves once the last submission using the buffer has
// completed; a later Device.Poll delivers it. A usage that lacks the
// requested mode fails immediately with ErrInvalidUsage, and a buffer
// that is not Unmapped fails with ErrInvalidState. callback may be nil.
func (b *Buffer) MapAsync(mode gputypes.MapMode, offset, size uint64, callback func(MapResult)) (*MapRequest, error) {
	d := b.device
	if err := d.check(); err != nil {
		return nil, err
	}

	var need gputypes.BufferUsage
	switch mode {
	case gputypes.MapModeRead:
		need = gputypes.BufferUsageMapRead
	case gputypes.MapModeWrite:
		need = gputypes.BufferUsageMapWrite
	default:
		return nil, fmt.Errorf("%w: map buffer %q: mode %d", ErrInvalidUsage, b.label, mode)
	}
	if !b.usage.Contains(need) {
		return nil, fmt.Errorf("%w: map buffer %q: usage lacks %s", ErrInvalidUsage, b.label, mapModeName(mode))
	}

	// Submit holds the queue lock from its unmapped check until the
	// submission is committed, so the target below cannot miss it.
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return nil, fmt.Errorf("map buffer %q: %w", b.label, ErrResourceDestroyed)
	}
	if b.state != gputypes.BufferMapStateUnmapped {
		return nil, fmt.Errorf("%w: map buffer %q: buffer is %s", ErrInvalidState, b.label, b.state)
	}

	if size == 0 && offset <= b.size {
		size = b.size - offset
	}
	if err := b.checkRange(offset, size); err != nil {
		return nil, err
	}

	r := &MapRequest{
		buffer:   b,
		mode:     mode,
		offset:   offset,
		size:     size,
		target:   d.state.LastSubmission(b.key()),
		callback: callback,
		done:     make(chan struct{}),
	}
	b.pending = r
	b.state = gputypes.BufferMapStatePending
	d.trackMap(r)
	return r, nil
}

// checkRange validates a map range: offset aligned to 8, size aligned
// to 4, and inside the buffer.
func (b *Buffer) checkRange(offset, size uint64) error {
	if offset%8 != 0 {
		return fmt.Errorf("%w: buffer %q: map offset %d not a multiple of 8", ErrInvalidUsage, b.label, offset)
	}
	if size%4 != 0 {
		return fmt.Errorf("%w: buffer %q: map size %d not a multiple of 4", ErrInvalidUsage, b.label, size)
	}
	if offset > b.size || size > b.size-offset {
		return fmt.Errorf("%w: buffer %q: range [%d, %d) exceeds size %d", ErrInvalidUsage, b.label, offset, offset+size, b.size)
	}
	return nil
}

// MappedRange returns a view of [offset, offset+size) of the mapped
// region. A size of 0 returns the rest of the mapping. The view is
// invalidated by Unmap.
func (b *Buffer) MappedRange(offset, size uint64) (*MappedRange, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return nil, fmt.Errorf("mapped range of %q: %w", b.label, ErrResourceDestroyed)
	}
	if b.state != gputypes.BufferMapStateMapped {
		return nil, fmt.Errorf("%w: buffer %q is %s", ErrInvalidState, b.label, b.state)
	}
	end := b.mapOffset + uint64(len(b.mapped))
	if size == 0 && offset >= b.mapOffset && offset <= end {
		size = end - offset
	}
	if offset%8 != 0 || size%4 != 0 {
		return nil, fmt.Errorf("%w: buffer %q: mapped range [%d, %d) misaligned", ErrInvalidUsage, b.label, offset, offset+size)
	}
	if offset < b.mapOffset || offset > end || size > end-offset {
		return nil, fmt.Errorf("%w: buffer %q: range [%d, %d) outside mapping [%d, %d)",
			ErrInvalidUsage, b.label, offset, offset+size, b.mapOffset, end)
	}

	lo := offset - b.mapOffset
	rng := newMappedRange(offset, b.mapped[lo:lo+size:lo+size])
	b.ranges = append(b.ranges, rng)
	return rng, nil
}

// Unmap returns a Mapped buffer to Unmapped and invalidates every range
// handed out for it. Unmapping a Pending buffer aborts the map; its
// result, ErrMapAborted, is delivered by the next Device.Poll.
func (b *Buffer) Unmap() error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return fmt.Errorf("unmap %q: %w", b.label, ErrResourceDestroyed)
	}
	var err error
	switch b.state {
	case gputypes.BufferMapStatePending:
		b.abortLocked(b.pending, ErrMapAborted)
	case gputypes.BufferMapStateMapped:
		err = b.unmapLocked()
	default:
		err = fmt.Errorf("%w: unmap %q: buffer is not mapped", ErrInvalidState, b.label)
	}
	b.mu.Unlock()

	b.device.noteErr(err)
	return err
}

func (b *Buffer) unmapLocked() error {
	for _, r := range b.ranges {
		r.invalidate()
	}
	b.ranges = nil
	b.mapped = nil
	b.state = gputypes.BufferMapStateUnmapped
	b.mapMode = gputypes.MapModeNone
	if err := b.device.raw.UnmapBuffer(b.raw); err != nil {
		return fmt.Errorf("unmap %q: %w", b.label, err)
	}
	return nil
}

// abort settles r with err unless it has already settled.
func (b *Buffer) abort(r *MapRequest, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.abortLocked(r, err)
}

func (b *Buffer) abortLocked(r *MapRequest, err error) {
	if r == nil || r.settled.Load() {
		return
	}
	r.result = MapResult{Err: fmt.Errorf("map buffer %q: %w", b.label, err)}
	r.settled.Store(true)
	if b.pending == r {
		b.pending = nil
		b.state = gputypes.BufferMapStateUnmapped
	}
}

// resolve maps the backend memory for a request whose submission has
// completed. Requests already settled are left alone.
func (b *Buffer) resolve(r *MapRequest) {
	b.mu.Lock()
	if r.settled.Load() {
		b.mu.Unlock()
		return
	}
	if b.pending != r {
		b.abortLocked(r, ErrMapAborted)
		b.mu.Unlock()
		return
	}

	data, err := b.device.raw.MapBuffer(b.raw, r.offset, r.size)
	if err != nil {
		b.abortLocked(r, err)
		b.mu.Unlock()
		b.device.noteErr(err)
		return
	}

	b.pending = nil
	b.state = gputypes.BufferMapStateMapped
	b.mapMode = r.mode
	b.mapOffset = r.offset
	b.mapped = data
	rng := newMappedRange(r.offset, data)
	b.ranges = append(b.ranges, rng)
	r.result = MapResult{Range: rng}
	r.settled.Store(true)
	b.mu.Unlock()
}

// Destroy releases the buffer. Use in flight is allowed to finish; the
// backend allocation is freed once the last submission using it
// completes. A pending map is aborted. Destroy is idempotent.
func (b *Buffer) Destroy() {
	d := b.device

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.abortLocked(b.pending, ErrMapAborted)
	if b.state == gputypes.BufferMapStateMapped {
		_ = b.unmapLocked()
	}
	b.mu.Unlock()

	if _, ok := d.buffers.Remove(b.id); !ok {
		return
	}
	d.retire(b.key(), func() { d.raw.DestroyBuffer(b.raw) })
}

// release frees the backend buffer during Device.Destroy.
func (b *Buffer) release() {
	b.mu.Lock()
	b.destroyed = true
	if b.state == gputypes.BufferMapStateMapped {
		_ = b.unmapLocked()
	}
	b.mu.Unlock()
	b.device.raw.DestroyBuffer(b.raw)
}

// unmappedForSubmit reports an error if the buffer cannot be used by a
// submission right now.
func (b *Buffer) unmappedForSubmit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return fmt.Errorf("buffer %q: %w", b.label, ErrResourceDestroyed)
	}
	if b.state != gputypes.BufferMapStateUnmapped {
		return fmt.Errorf("%w: buffer %q is %s", ErrInvalidState, b.label, b.state)
	}
	return nil
}

func mapModeName(m gputypes.MapMode) string {
	switch m {
	case gputypes.MapModeRead:
		return "MapRead"
	case gputypes.MapModeWrite:
		return "MapWrite"
	default:
		return fmt.Sprintf("MapMode(%d)", uint32(m))
	}
}
