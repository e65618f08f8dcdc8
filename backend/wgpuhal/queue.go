package wgpuhal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/halcore"
)

// Polling interval bounds for Wait. HAL queues expose completion only
// through PollCompleted.
const (
	minPollInterval = 50 * time.Microsecond
	maxPollInterval = 2 * time.Millisecond
)

type queue struct {
	device *device
	raw    hal.Queue

	mu        sync.Mutex
	submitted uint64
}

// Submit hands the batch to the HAL queue. A single HAL queue executes in
// submission order, so WaitFor only has to name known submissions.
func (q *queue) Submit(batch halcore.SubmitBatch) (uint64, error) {
	if q.device.lost.Load() {
		return 0, q.device.errLost()
	}
	cmds := make([]hal.CommandBuffer, 0, len(batch.CommandBuffers))
	for _, raw := range batch.CommandBuffers {
		cb, ok := raw.(*commandBuffer)
		if !ok {
			return 0, fmt.Errorf("wgpuhal: foreign command buffer %T", raw)
		}
		cmds = append(cmds, cb.raw)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, w := range batch.WaitFor {
		if w > q.submitted {
			return 0, fmt.Errorf("wgpuhal: wait for unknown submission %d", w)
		}
	}
	idx, err := q.raw.Submit(cmds)
	if err != nil {
		return 0, q.device.check(err)
	}
	q.submitted = idx
	return idx, nil
}

func (q *queue) Completed() (uint64, error) {
	if q.device.lost.Load() {
		return 0, q.device.errLost()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.raw.PollCompleted(), nil
}

// Wait polls the HAL queue with exponential backoff.
func (q *queue) Wait(ctx context.Context, index uint64) error {
	interval := minPollInterval
	for {
		done, err := q.Completed()
		if err != nil {
			return err
		}
		if done >= index {
			return nil
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		interval = min(interval*2, maxPollInterval)
	}
}
