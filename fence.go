package halcore

import (
	"fmt"
	"sync"

	"github.com/gogpu/halcore/internal/arena"
)

type fenceSignal struct {
	value      uint64
	submission uint64
	backend    uint64
}

// Fence is a monotonically increasing 64-bit timeline. Submissions
// advance it with SignalFence and order themselves after it with
// WaitFence.
//
// Every queue owns a built-in fence that reaches submission index N when
// submission N completes.
type Fence struct {
	device  *Device
	id      arena.ID
	label   string
	builtin bool

	mu          sync.Mutex
	observed    uint64
	pending     uint64
	lastBackend uint64
	signals     []fenceSignal
}

// Label returns the debug label.
func (f *Fence) Label() string { return f.label }

// Value returns the highest value the GPU has been observed to reach.
// It is refreshed by Device.Poll.
func (f *Fence) Value() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.observed
}

// Pending returns the highest value any accepted submission will signal.
func (f *Fence) Pending() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// Completed reports whether the fence has been observed at or past v.
func (f *Fence) Completed(v uint64) bool { return f.Value() >= v }

// Destroy releases the fence. Later submissions that name it fail with
// ErrResourceDestroyed. The queue's built-in fence cannot be destroyed.
func (f *Fence) Destroy() {
	if f.builtin {
		return
	}
	f.device.fences.Remove(f.id)
}

func (f *Fence) alive() bool {
	return f.builtin || f.device.fences.Contains(f.id)
}

// waitTarget returns the backend submission index a wait on value must
// be ordered after. Values the fence has already passed resolve to the
// submission that passed them.
func (f *Fence) waitTarget(value uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if value <= f.observed {
		return f.lastBackend, nil
	}
	for _, s := range f.signals {
		if s.value >= value {
			return s.backend, nil
		}
	}
	return 0, fmt.Errorf("%w: fence %q wait on %d, never signaled past %d", ErrInvalidState, f.label, value, f.pending)
}

func (f *Fence) signal(value, submission, backend uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, fenceSignal{value: value, submission: submission, backend: backend})
	f.pending = value
}

// retire advances the fence past every signal whose submission is
// complete.
func (f *Fence) retire(submission uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for n < len(f.signals) && f.signals[n].submission <= submission {
		s := f.signals[n]
		f.observed = max(f.observed, s.value)
		f.lastBackend = s.backend
		n++
	}
	f.signals = append(f.signals[:0], f.signals[n:]...)
}
