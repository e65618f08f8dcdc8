package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore"
	"github.com/gogpu/halcore/internal/workpool"
)

// runBulk opens the first adapter and has cfg.Workers pool workers each
// create cfg.Buffers large buffers, clear them and submit, then waits for
// the queue to drain.
func runBulk(w io.Writer, cfg config) error {
	adapters, err := enumerate(cfg)
	if err != nil {
		return err
	}
	a := adapters[0]
	d, err := a.Open(0, gputypes.Limits{})
	if err != nil {
		return fmt.Errorf("open %s: %w", a.Info().Name, err)
	}
	defer d.Destroy()

	fmt.Fprintf(w, "adapter: %s (%s)\n", a.Info().Name, a.Api().Name())
	start := time.Now()

	pool := workpool.New(cfg.Workers)
	defer pool.Close()

	errs := make([]error, cfg.Workers)
	work := make([]func(), cfg.Workers)
	for i := range work {
		work[i] = func() { errs[i] = bulkWorker(d, i, cfg.Buffers, cfg.BufSize) }
	}
	pool.Run(work)
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if _, err := d.Poll(context.Background(), halcore.PollWait); err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	st := d.Stats()
	total := uint64(cfg.Workers*cfg.Buffers) * cfg.BufSize
	fmt.Fprintf(w, "buffers: %d x %s = %s\n", st.Buffers, formatBytes(cfg.BufSize), formatBytes(total))
	fmt.Fprintf(w, "submissions: %d submitted, %d completed\n", st.Submitted, st.Completed)
	fmt.Fprintf(w, "elapsed: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func bulkWorker(d *halcore.Device, id, n int, size uint64) error {
	for j := range n {
		label := fmt.Sprintf("bulk-%d-%d", id, j)
		b, err := d.CreateBuffer(gputypes.BufferDescriptor{
			Label: label,
			Size:  size,
			Usage: gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return err
		}
		enc, err := d.CreateCommandEncoder(d.Queue(), label)
		if err != nil {
			return err
		}
		if err := enc.BeginEncoding(); err != nil {
			return err
		}
		if err := enc.ClearBuffer(b, 0, 0); err != nil {
			enc.Discard()
			return err
		}
		cb, err := enc.EndEncoding()
		if err != nil {
			return err
		}
		if _, err := d.Queue().Submit([]*halcore.CommandBuffer{cb}); err != nil {
			return fmt.Errorf("submit %s: %w", label, err)
		}
	}
	return nil
}
