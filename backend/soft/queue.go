package soft

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/halcore"
)

// queue executes submissions in order. Completion is published through a
// channel that is closed and replaced on every change.
type queue struct {
	dev *device

	mu        sync.Mutex
	submitted uint64
	completed uint64
	pending   []pendingBatch
	changed   chan struct{}
}

type pendingBatch struct {
	index uint64
	cmds  []*cmdBuffer
}

func newQueue(d *device) *queue {
	return &queue{dev: d, changed: make(chan struct{})}
}

func (q *queue) broadcast() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.broadcastLocked()
}

func (q *queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *queue) Submit(batch halcore.SubmitBatch) (uint64, error) {
	d := q.dev
	if d.lost.Load() {
		return 0, d.errLost()
	}
	if err := d.adapter.api.takeFailure(); err != nil {
		return 0, err
	}

	cmds := make([]*cmdBuffer, 0, len(batch.CommandBuffers))
	for _, raw := range batch.CommandBuffers {
		cb, ok := raw.(*cmdBuffer)
		if !ok || cb.dev != d {
			return 0, fmt.Errorf("%w: foreign command buffer %T", errBackend, raw)
		}
		cmds = append(cmds, cb)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, w := range batch.WaitFor {
		if w > q.submitted {
			return 0, fmt.Errorf("%w: wait for unknown submission %d", errBackend, w)
		}
	}
	q.submitted++
	idx := q.submitted
	d.adapter.api.submissions.Add(1)

	if d.adapter.api.holding() || len(q.pending) > 0 {
		q.pending = append(q.pending, pendingBatch{index: idx, cmds: cmds})
		return idx, nil
	}
	q.execute(cmds)
	q.completed = idx
	q.broadcastLocked()
	return idx, nil
}

// flush executes held batches once the API is no longer holding.
func (q *queue) flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dev.lost.Load() {
		return
	}
	for _, p := range q.pending {
		q.execute(p.cmds)
		q.completed = p.index
	}
	q.pending = nil
	q.broadcastLocked()
}

func (q *queue) execute(cmds []*cmdBuffer) {
	q.dev.execMu.Lock()
	defer q.dev.execMu.Unlock()
	for _, cb := range cmds {
		cb.run()
	}
}

func (q *queue) Completed() (uint64, error) {
	if q.dev.lost.Load() {
		return 0, q.dev.errLost()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed, nil
}

func (q *queue) Wait(ctx context.Context, index uint64) error {
	for {
		if q.dev.lost.Load() {
			return q.dev.errLost()
		}
		q.mu.Lock()
		if q.completed >= index {
			q.mu.Unlock()
			return nil
		}
		if index > q.submitted {
			q.mu.Unlock()
			return fmt.Errorf("%w: wait for unknown submission %d", errBackend, index)
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
