package halcore

import (
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// MapResult is the outcome of a MapAsync request.
type MapResult struct {
	// Range covers the whole requested region when Err is nil.
	Range *MappedRange
	Err   error
}

// MapRequest is a one-shot future for a MapAsync call.
//
// It is resolved by Device.Poll once the buffer's last submission has
// completed, or settled early when the map is aborted or the device is
// lost. Done is closed after the result is final; the optional callback
// runs right after, on the goroutine that called Poll.
type MapRequest struct {
	buffer   *Buffer
	mode     gputypes.MapMode
	offset   uint64
	size     uint64
	target   uint64
	callback func(MapResult)

	settled atomic.Bool
	result  MapResult
	done    chan struct{}
}

// Mode returns the requested map mode.
func (r *MapRequest) Mode() gputypes.MapMode { return r.mode }

// Offset returns the requested start offset.
func (r *MapRequest) Offset() uint64 { return r.offset }

// Size returns the requested size in bytes.
func (r *MapRequest) Size() uint64 { return r.size }

// Done returns a channel closed once the result has been delivered.
func (r *MapRequest) Done() <-chan struct{} { return r.done }

// Result returns the outcome and true once delivered, or false while the
// request is still outstanding.
func (r *MapRequest) Result() (MapResult, bool) {
	select {
	case <-r.done:
		return r.result, true
	default:
		return MapResult{}, false
	}
}

// Err is shorthand for the delivered error. It returns nil while the
// request is outstanding.
func (r *MapRequest) Err() error {
	res, _ := r.Result()
	return res.Err
}

func (r *MapRequest) deliver() {
	close(r.done)
	if r.callback != nil {
		r.callback(r.result)
	}
}

// MappedRange is host-visible memory of a mapped buffer.
// Its bytes become unreachable once the buffer is unmapped.
type MappedRange struct {
	offset uint64
	data   []byte
	valid  atomic.Bool
}

func newMappedRange(offset uint64, data []byte) *MappedRange {
	r := &MappedRange{offset: offset, data: data}
	r.valid.Store(true)
	return r
}

// Bytes returns the mapped memory, or nil once the range is invalidated.
// The slice must not be retained across Unmap.
func (r *MappedRange) Bytes() []byte {
	if !r.valid.Load() {
		return nil
	}
	return r.data
}

// Offset returns the buffer offset of the first byte.
func (r *MappedRange) Offset() uint64 { return r.offset }

// Size returns the length of the range in bytes.
func (r *MappedRange) Size() uint64 { return uint64(len(r.data)) }

// Valid reports whether the range is still usable.
func (r *MappedRange) Valid() bool { return r.valid.Load() }

func (r *MappedRange) invalidate() { r.valid.Store(false) }
