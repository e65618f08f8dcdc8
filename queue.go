package halcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore/internal/track"
)

// SubmissionIndex identifies an accepted submission. Indices start at 1
// and increase by one per Submit.
type SubmissionIndex uint64

type inflight struct {
	index   uint64
	backend uint64
	cmds    []RawCommandBuffer
	signals []*Fence
}

// Queue is the device's submission channel. Submissions complete in the
// order they were accepted.
type Queue struct {
	device *Device
	raw    RawQueue
	fence  *Fence

	// mu serializes Submit.
	mu        sync.Mutex
	submitted atomic.Uint64

	infMu     sync.Mutex
	inflight  []inflight
	completed atomic.Uint64
}

func newQueue(d *Device, raw RawQueue) *Queue {
	q := &Queue{device: d, raw: raw}
	q.fence = &Fence{device: d, label: "queue", builtin: true}
	return q
}

// Fence returns the queue's built-in fence. It reaches N once submission
// N has completed.
func (q *Queue) Fence() *Fence { return q.fence }

// Submitted returns the index of the last accepted submission.
func (q *Queue) Submitted() SubmissionIndex { return SubmissionIndex(q.submitted.Load()) }

// Completed returns the index of the last submission observed complete.
func (q *Queue) Completed() SubmissionIndex { return SubmissionIndex(q.completed.Load()) }

// Submit hands command buffers to the backend in order.
//
// Resource transitions needed between the current device state and the
// first use in each command buffer are inserted automatically. Every
// command buffer must have been recorded for this queue and may be
// submitted once. Buffers it references must be unmapped and alive.
//
// A submission the backend rejects fails with ErrSubmitFailed; its
// command buffers are consumed regardless.
func (q *Queue) Submit(cmds []*CommandBuffer, opts ...SubmitOption) (SubmissionIndex, error) {
	d := q.device
	if err := d.check(); err != nil {
		return 0, err
	}
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.validate(cmds); err != nil {
		return 0, err
	}
	waitFor, err := resolveWaits(o.waits)
	if err != nil {
		return 0, err
	}
	if err := validateSignals(o.signals); err != nil {
		return 0, err
	}

	usages := make([]track.Usages, len(cmds))
	for i, c := range cmds {
		c.consumed.Store(true)
		usages[i] = c.usages
	}

	plan := d.state.Plan(usages)
	raws := make([]RawCommandBuffer, 0, len(cmds)+1)
	for i, c := range cmds {
		if len(plan[i]) > 0 {
			tb, err := q.encodeTransitions(c, plan[i])
			if err != nil {
				q.free(raws)
				q.free(rawsOf(cmds[i:]))
				d.noteErr(err)
				return 0, fmt.Errorf("%w: encode transitions: %w", ErrSubmitFailed, err)
			}
			raws = append(raws, tb)
		}
		raws = append(raws, c.raw)
	}

	backend, err := q.raw.Submit(SubmitBatch{CommandBuffers: raws, WaitFor: waitFor})
	if err != nil {
		q.free(raws)
		d.noteErr(err)
		return 0, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	idx := q.submitted.Add(1)
	d.state.Commit(usages, idx)

	signals := make([]*Fence, 0, len(o.signals)+1)
	q.fence.signal(idx, idx, backend)
	signals = append(signals, q.fence)
	for _, s := range o.signals {
		s.fence.signal(s.value, idx, backend)
		signals = append(signals, s.fence)
	}

	q.infMu.Lock()
	q.inflight = append(q.inflight, inflight{index: idx, backend: backend, cmds: raws, signals: signals})
	q.infMu.Unlock()

	Logger().Debug("halcore: submitted",
		"index", idx,
		"command_buffers", len(cmds),
		"transitions", len(raws)-len(cmds))
	return SubmissionIndex(idx), nil
}

func (q *Queue) validate(cmds []*CommandBuffer) error {
	seen := make(map[*CommandBuffer]struct{}, len(cmds))
	for i, c := range cmds {
		if c == nil {
			return fmt.Errorf("%w: command buffer %d is nil", ErrInvalidState, i)
		}
		if c.queue != q {
			return fmt.Errorf("%w: command buffer %q was recorded for another queue", ErrInvalidState, c.label)
		}
		if c.consumed.Load() {
			return fmt.Errorf("%w: command buffer %q already submitted", ErrInvalidState, c.label)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: command buffer %q listed twice", ErrInvalidState, c.label)
		}
		seen[c] = struct{}{}

		for _, r := range c.resources {
			switch {
			case r.buffer != nil:
				if !r.buffer.alive() {
					return fmt.Errorf("command buffer %q: buffer %q: %w", c.label, r.buffer.label, ErrResourceDestroyed)
				}
				if err := r.buffer.unmappedForSubmit(); err != nil {
					return fmt.Errorf("command buffer %q: %w", c.label, err)
				}
			case r.texture != nil:
				if !r.texture.alive() {
					return fmt.Errorf("command buffer %q: texture %q: %w", c.label, r.texture.desc.Label, ErrResourceDestroyed)
				}
			}
		}
	}
	return nil
}

func resolveWaits(waits []fenceValue) ([]uint64, error) {
	var out []uint64
	for _, w := range waits {
		if w.fence == nil {
			return nil, fmt.Errorf("%w: wait on nil fence", ErrInvalidState)
		}
		if !w.fence.alive() {
			return nil, fmt.Errorf("wait on fence %q: %w", w.fence.label, ErrResourceDestroyed)
		}
		b, err := w.fence.waitTarget(w.value)
		if err != nil {
			return nil, err
		}
		if b != 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

func validateSignals(signals []fenceValue) error {
	last := make(map[*Fence]uint64, len(signals))
	for _, s := range signals {
		if s.fence == nil {
			return fmt.Errorf("%w: signal on nil fence", ErrInvalidState)
		}
		if s.fence.builtin {
			return fmt.Errorf("%w: the queue fence is signaled automatically", ErrInvalidState)
		}
		if !s.fence.alive() {
			return fmt.Errorf("signal fence %q: %w", s.fence.label, ErrResourceDestroyed)
		}
		prev, ok := last[s.fence]
		if !ok {
			prev = s.fence.Pending()
		}
		if s.value <= prev {
			return fmt.Errorf("%w: fence %q signal %d does not exceed %d", ErrInvalidState, s.fence.label, s.value, prev)
		}
		last[s.fence] = s.value
	}
	return nil
}

// encodeTransitions records the barriers that bring the device state to
// the entry state of c.
func (q *Queue) encodeTransitions(c *CommandBuffer, barriers []track.Barrier) (RawCommandBuffer, error) {
	enc, err := q.device.raw.CreateCommandEncoder("halcore transitions")
	if err != nil {
		return nil, err
	}
	if err := enc.BeginEncoding("halcore transitions"); err != nil {
		enc.DiscardEncoding()
		return nil, err
	}
	transition(enc, c.resources, barriers)
	return enc.EndEncoding()
}

func fullTextureBarrier(t *Texture, from, to gputypes.TextureUsage) TextureBarrier {
	return TextureBarrier{
		Texture:       t.raw,
		MipLevelCount: t.desc.MipLevelCount,
		LayerCount:    t.ArrayLayers(),
		From:          from,
		To:            to,
	}
}

func rawsOf(cmds []*CommandBuffer) []RawCommandBuffer {
	out := make([]RawCommandBuffer, len(cmds))
	for i, c := range cmds {
		out[i] = c.raw
	}
	return out
}

func (q *Queue) free(raws []RawCommandBuffer) {
	for _, r := range raws {
		q.device.raw.FreeCommandBuffer(r)
	}
}

// poll retires finished submissions. With wait set it first blocks until
// the oldest outstanding submission completes.
func (q *Queue) poll(ctx context.Context, wait bool) (bool, error) {
	c, err := q.raw.Completed()
	if err != nil {
		return false, err
	}
	if wait {
		q.infMu.Lock()
		var next uint64
		for _, f := range q.inflight {
			if f.backend > c {
				next = f.backend
				break
			}
		}
		q.infMu.Unlock()

		if next != 0 {
			if err := q.raw.Wait(ctx, next); err != nil {
				return false, err
			}
			if c, err = q.raw.Completed(); err != nil {
				return false, err
			}
		}
	}
	return q.retire(c) > 0, nil
}

// drain waits for every outstanding submission and retires it.
func (q *Queue) drain(ctx context.Context) error {
	q.infMu.Lock()
	var last uint64
	if n := len(q.inflight); n > 0 {
		last = q.inflight[n-1].backend
	}
	q.infMu.Unlock()

	if last != 0 {
		if err := q.raw.Wait(ctx, last); err != nil && !errors.Is(err, ErrDeviceLost) {
			return err
		}
	}
	c, err := q.raw.Completed()
	if err != nil {
		return err
	}
	q.retire(c)
	return nil
}

// retire pops every submission whose backend index is at most c.
func (q *Queue) retire(c uint64) int {
	q.infMu.Lock()
	n := 0
	for n < len(q.inflight) && q.inflight[n].backend <= c {
		n++
	}
	done := make([]inflight, n)
	copy(done, q.inflight[:n])
	q.inflight = append(q.inflight[:0], q.inflight[n:]...)
	q.infMu.Unlock()

	for _, f := range done {
		for _, fence := range f.signals {
			fence.retire(f.index)
		}
		q.completed.Store(f.index)
		q.free(f.cmds)
	}
	return n
}

// freeAll releases the command buffers of submissions that will never
// be observed complete.
func (q *Queue) freeAll() {
	q.infMu.Lock()
	rest := q.inflight
	q.inflight = nil
	q.infMu.Unlock()
	for _, f := range rest {
		q.free(f.cmds)
	}
}
