package halcore_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore"
)

func readback(t *testing.T, d *halcore.Device, label string, size uint64) *halcore.Buffer {
	t.Helper()
	return mustBuffer(t, d, label, size, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
}

// clearOnce submits a command buffer that clears b and returns its index.
func clearOnce(t *testing.T, d *halcore.Device, b *halcore.Buffer) halcore.SubmissionIndex {
	t.Helper()
	return submit(t, d, record(t, d, func(enc *halcore.CommandEncoder) {
		if err := enc.ClearBuffer(b, 0, 0); err != nil {
			t.Fatalf("ClearBuffer(%q) error = %v", b.Label(), err)
		}
	}))
}

func TestMapReadRoundTrip(t *testing.T) {
	d, _ := openSoft(t)
	payload := []byte("0123456789abcdef")

	src, err := d.CreateBuffer(gputypes.BufferDescriptor{
		Label:            "src",
		Size:             uint64(len(payload)),
		Usage:            gputypes.BufferUsageCopySrc,
		MappedAtCreation: true,
	})
	if err != nil {
		t.Fatalf("CreateBuffer(src) error = %v", err)
	}
	rng, err := src.MappedRange(0, 0)
	if err != nil {
		t.Fatalf("MappedRange() error = %v", err)
	}
	copy(rng.Bytes(), payload)
	if err := src.Unmap(); err != nil {
		t.Fatalf("Unmap() error = %v", err)
	}

	dst := readback(t, d, "dst", uint64(len(payload)))
	submit(t, d, record(t, d, func(enc *halcore.CommandEncoder) {
		if err := enc.CopyBufferToBuffer(src, 0, dst, 0, uint64(len(payload))); err != nil {
			t.Fatalf("CopyBufferToBuffer() error = %v", err)
		}
	}))

	var calls int
	req, err := dst.MapAsync(gputypes.MapModeRead, 0, 0, func(res halcore.MapResult) {
		calls++
		if res.Err != nil {
			t.Errorf("callback error = %v", res.Err)
		}
	})
	if err != nil {
		t.Fatalf("MapAsync() error = %v", err)
	}
	if req.Size() != uint64(len(payload)) || req.Offset() != 0 || req.Mode() != gputypes.MapModeRead {
		t.Errorf("request = (%d, %d, %v)", req.Offset(), req.Size(), req.Mode())
	}
	if dst.MapState() != gputypes.BufferMapStatePending {
		t.Errorf("MapState() = %v, want Pending", dst.MapState())
	}
	if _, ok := req.Result(); ok {
		t.Fatal("Result() resolved before Poll")
	}

	if !pollWait(t, d) {
		t.Error("Poll() reported no progress")
	}
	select {
	case <-req.Done():
	default:
		t.Fatal("Done() not closed after Poll")
	}
	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
	res, ok := req.Result()
	if !ok || res.Err != nil {
		t.Fatalf("Result() = (%+v, %v)", res, ok)
	}
	if !bytes.Equal(res.Range.Bytes(), payload) {
		t.Errorf("mapped bytes = %q, want %q", res.Range.Bytes(), payload)
	}
	if dst.MapState() != gputypes.BufferMapStateMapped {
		t.Errorf("MapState() = %v, want Mapped", dst.MapState())
	}

	if err := dst.Unmap(); err != nil {
		t.Fatalf("Unmap() error = %v", err)
	}
	if res.Range.Valid() {
		t.Error("range still valid after Unmap")
	}
	pollWait(t, d)
	if calls != 1 {
		t.Errorf("callback ran again on a later Poll")
	}
}

func TestMapWriteUpload(t *testing.T) {
	d, _ := openSoft(t)
	upload := mustBuffer(t, d, "upload", 32, gputypes.BufferUsageMapWrite|gputypes.BufferUsageCopySrc)
	dst := readback(t, d, "dst", 32)

	req, err := upload.MapAsync(gputypes.MapModeWrite, 0, 0, nil)
	if err != nil {
		t.Fatalf("MapAsync(write) error = %v", err)
	}
	pollWait(t, d)
	if err := req.Err(); err != nil {
		t.Fatalf("map write error = %v", err)
	}
	res, _ := req.Result()
	for i := range res.Range.Bytes() {
		res.Range.Bytes()[i] = byte(i)
	}
	if err := upload.Unmap(); err != nil {
		t.Fatalf("Unmap() error = %v", err)
	}

	submit(t, d, record(t, d, func(enc *halcore.CommandEncoder) {
		if err := enc.CopyBufferToBuffer(upload, 8, dst, 0, 16); err != nil {
			t.Fatalf("CopyBufferToBuffer() error = %v", err)
		}
	}))
	read, err := dst.MapAsync(gputypes.MapModeRead, 0, 16, nil)
	if err != nil {
		t.Fatalf("MapAsync(read) error = %v", err)
	}
	pollWait(t, d)
	got, _ := read.Result()
	want := []byte{8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23}
	if !bytes.Equal(got.Range.Bytes(), want) {
		t.Errorf("copied bytes = %v, want %v", got.Range.Bytes(), want)
	}
}

func TestMapCallbackOrder(t *testing.T) {
	d, api := openSoft(t)
	idle := readback(t, d, "idle", 16)
	first := readback(t, d, "first", 16)
	second := readback(t, d, "second", 16)

	api.Hold()
	if idx := clearOnce(t, d, first); idx != 1 {
		t.Fatalf("first submission index = %d, want 1", idx)
	}
	if idx := clearOnce(t, d, second); idx != 2 {
		t.Fatalf("second submission index = %d, want 2", idx)
	}

	var order []string
	mapRead := func(b *halcore.Buffer) {
		t.Helper()
		if _, err := b.MapAsync(gputypes.MapModeRead, 0, 0, func(res halcore.MapResult) {
			if res.Err != nil {
				t.Errorf("%s: %v", b.Label(), res.Err)
			}
			order = append(order, b.Label())
		}); err != nil {
			t.Fatalf("MapAsync(%q) error = %v", b.Label(), err)
		}
	}
	mapRead(second)
	mapRead(first)
	mapRead(idle)

	// Only the buffer without GPU work can resolve while the queue is held.
	progress, err := d.Poll(context.Background(), halcore.PollPoll)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !progress || len(order) != 1 || order[0] != "idle" {
		t.Fatalf("after Poll: progress=%v order=%v, want [idle]", progress, order)
	}
	if got := d.Stats().PendingMaps; got != 2 {
		t.Errorf("PendingMaps = %d, want 2", got)
	}

	api.Release()
	pollWait(t, d)
	want := []string{"idle", "first", "second"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestMapAborted(t *testing.T) {
	tests := []struct {
		name  string
		abort func(*halcore.Buffer) error
	}{
		{name: "unmap", abort: (*halcore.Buffer).Unmap},
		{name: "destroy", abort: func(b *halcore.Buffer) error { b.Destroy(); return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, api := openSoft(t)
			b := readback(t, d, "target", 64)

			api.Hold()
			defer api.Release()
			clearOnce(t, d, b)

			var got error
			req, err := b.MapAsync(gputypes.MapModeRead, 0, 0, func(res halcore.MapResult) { got = res.Err })
			if err != nil {
				t.Fatalf("MapAsync() error = %v", err)
			}
			if err := tt.abort(b); err != nil {
				t.Fatalf("abort error = %v", err)
			}
			if b.MapState() != gputypes.BufferMapStateUnmapped {
				t.Errorf("MapState() = %v, want Unmapped", b.MapState())
			}
			if _, ok := req.Result(); ok {
				t.Fatal("aborted map delivered before Poll")
			}

			if _, err := d.Poll(context.Background(), halcore.PollPoll); err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if !errors.Is(got, halcore.ErrMapAborted) {
				t.Errorf("callback error = %v, want ErrMapAborted", got)
			}
			if !errors.Is(req.Err(), halcore.ErrMapAborted) {
				t.Errorf("Err() = %v, want ErrMapAborted", req.Err())
			}
		})
	}
}

func TestMapAbortedByDeviceDestroy(t *testing.T) {
	d, _ := openSoft(t)
	b := readback(t, d, "orphan", 64)
	req, err := b.MapAsync(gputypes.MapModeRead, 0, 0, nil)
	if err != nil {
		t.Fatalf("MapAsync() error = %v", err)
	}
	d.Destroy()
	if !errors.Is(req.Err(), halcore.ErrMapAborted) {
		t.Errorf("Err() = %v, want ErrMapAborted", req.Err())
	}
	if _, err := d.Poll(context.Background(), halcore.PollPoll); !errors.Is(err, halcore.ErrInvalidState) {
		t.Errorf("Poll() on destroyed device = %v, want ErrInvalidState", err)
	}
}

func TestMapOnLostDevice(t *testing.T) {
	d, api := openSoft(t)
	b := readback(t, d, "doomed", 64)

	api.Hold()
	clearOnce(t, d, b)
	req, err := b.MapAsync(gputypes.MapModeRead, 0, 0, nil)
	if err != nil {
		t.Fatalf("MapAsync() error = %v", err)
	}

	api.LoseDevice()
	if _, err := d.Poll(context.Background(), halcore.PollWait); !errors.Is(err, halcore.ErrDeviceLost) {
		t.Fatalf("Poll() = %v, want ErrDeviceLost", err)
	}
	if !errors.Is(req.Err(), halcore.ErrDeviceLost) {
		t.Errorf("map Err() = %v, want ErrDeviceLost", req.Err())
	}
	if !errors.Is(d.Err(), halcore.ErrDeviceLost) {
		t.Errorf("Device.Err() = %v, want ErrDeviceLost", d.Err())
	}

	if _, err := d.CreateBuffer(gputypes.BufferDescriptor{Size: 4, Usage: gputypes.BufferUsageCopyDst}); !errors.Is(err, halcore.ErrDeviceLost) {
		t.Errorf("CreateBuffer() on lost device = %v, want ErrDeviceLost", err)
	}
	if _, err := b.MapAsync(gputypes.MapModeRead, 0, 0, nil); !errors.Is(err, halcore.ErrDeviceLost) {
		t.Errorf("MapAsync() on lost device = %v, want ErrDeviceLost", err)
	}
}

func TestMapAsyncErrors(t *testing.T) {
	d, _ := openSoft(t)
	tests := []struct {
		name    string
		usage   gputypes.BufferUsage
		mode    gputypes.MapMode
		offset  uint64
		size    uint64
		wantErr error
	}{
		{name: "read without MapRead", usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc, mode: gputypes.MapModeRead, wantErr: halcore.ErrInvalidUsage},
		{name: "write without MapWrite", usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst, mode: gputypes.MapModeWrite, wantErr: halcore.ErrInvalidUsage},
		{name: "no mode", usage: gputypes.BufferUsageMapRead, mode: gputypes.MapModeNone, wantErr: halcore.ErrInvalidUsage},
		{name: "offset not 8-aligned", usage: gputypes.BufferUsageMapRead, mode: gputypes.MapModeRead, offset: 4, size: 8, wantErr: halcore.ErrInvalidUsage},
		{name: "size not 4-aligned", usage: gputypes.BufferUsageMapRead, mode: gputypes.MapModeRead, size: 6, wantErr: halcore.ErrInvalidUsage},
		{name: "past the end", usage: gputypes.BufferUsageMapRead, mode: gputypes.MapModeRead, offset: 32, size: 64, wantErr: halcore.ErrInvalidUsage},
		{name: "offset beyond size", usage: gputypes.BufferUsageMapRead, mode: gputypes.MapModeRead, offset: 72, wantErr: halcore.ErrInvalidUsage},
		{name: "tail", usage: gputypes.BufferUsageMapRead, mode: gputypes.MapModeRead, offset: 56},
		{name: "empty range at end", usage: gputypes.BufferUsageMapRead, mode: gputypes.MapModeRead, offset: 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mustBuffer(t, d, tt.name, 64, tt.usage)
			defer b.Destroy()
			req, err := b.MapAsync(tt.mode, tt.offset, tt.size, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("MapAsync() = %v, want %v", err, tt.wantErr)
				}
				if b.MapState() != gputypes.BufferMapStateUnmapped {
					t.Errorf("failed MapAsync left state %v", b.MapState())
				}
				return
			}
			if err != nil {
				t.Fatalf("MapAsync() error = %v", err)
			}
			if req.Offset()+req.Size() != 64 {
				t.Errorf("range [%d, %d), want to end at 64", req.Offset(), req.Offset()+req.Size())
			}
		})
	}
}

func TestMapAsyncUsageCheckedFirst(t *testing.T) {
	d, _ := openSoft(t)
	b, err := d.CreateBuffer(gputypes.BufferDescriptor{
		Label:            "upload",
		Size:             16,
		Usage:            gputypes.BufferUsageCopySrc,
		MappedAtCreation: true,
	})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	defer b.Destroy()
	if _, err := b.MapAsync(gputypes.MapModeWrite, 0, 0, nil); !errors.Is(err, halcore.ErrInvalidUsage) {
		t.Errorf("MapAsync() on a mapped buffer without MapWrite = %v, want ErrInvalidUsage", err)
	}
	if b.MapState() != gputypes.BufferMapStateMapped {
		t.Errorf("MapState() = %v, want Mapped", b.MapState())
	}
}

func TestMapAsyncRacingSubmit(t *testing.T) {
	d, api := openSoft(t)
	api.Hold()

	var raced []*halcore.MapRequest
	for i := range 200 {
		b := readback(t, d, fmt.Sprintf("race-%d", i), 16)
		cb := record(t, d, func(enc *halcore.CommandEncoder) {
			if err := enc.ClearBuffer(b, 0, 0); err != nil {
				t.Fatalf("ClearBuffer() error = %v", err)
			}
		})

		submitted := make(chan error, 1)
		go func() {
			_, err := d.Queue().Submit([]*halcore.CommandBuffer{cb})
			submitted <- err
		}()
		req, mapErr := b.MapAsync(gputypes.MapModeRead, 0, 0, nil)
		subErr := <-submitted

		switch {
		case mapErr != nil:
			t.Fatalf("iteration %d: MapAsync() error = %v", i, mapErr)
		case subErr == nil:
			raced = append(raced, req)
		case !errors.Is(subErr, halcore.ErrInvalidState):
			t.Fatalf("iteration %d: Submit() error = %v, want nil or ErrInvalidState", i, subErr)
		}
		if _, err := d.Poll(context.Background(), halcore.PollPoll); err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
	}

	for i, req := range raced {
		if _, ok := req.Result(); ok {
			t.Fatalf("map %d resolved before the submission writing its buffer completed", i)
		}
	}
	api.Release()
	pollWait(t, d)
	for i, req := range raced {
		res, ok := req.Result()
		if !ok || res.Err != nil {
			t.Errorf("map %d after release = (%+v, %v), want resolved without error", i, res, ok)
		}
	}
}

func TestMapAsyncWhilePending(t *testing.T) {
	d, _ := openSoft(t)
	b := readback(t, d, "busy", 64)
	if _, err := b.MapAsync(gputypes.MapModeRead, 0, 0, nil); err != nil {
		t.Fatalf("MapAsync() error = %v", err)
	}
	if _, err := b.MapAsync(gputypes.MapModeRead, 0, 0, nil); !errors.Is(err, halcore.ErrInvalidState) {
		t.Fatalf("second MapAsync() = %v, want ErrInvalidState", err)
	}
	pollWait(t, d)
	if _, err := b.MapAsync(gputypes.MapModeRead, 0, 0, nil); !errors.Is(err, halcore.ErrInvalidState) {
		t.Fatalf("MapAsync() on mapped buffer = %v, want ErrInvalidState", err)
	}
}

func TestMappedRangeBounds(t *testing.T) {
	d, _ := openSoft(t)
	b := readback(t, d, "window", 64)
	if _, err := b.MapAsync(gputypes.MapModeRead, 16, 32, nil); err != nil {
		t.Fatalf("MapAsync() error = %v", err)
	}
	pollWait(t, d)

	tests := []struct {
		name         string
		offset, size uint64
		wantSize     uint64
		wantErr      error
	}{
		{name: "whole mapping", offset: 16, wantSize: 32},
		{name: "inner", offset: 24, size: 8, wantSize: 8},
		{name: "before mapping", offset: 8, size: 8, wantErr: halcore.ErrInvalidUsage},
		{name: "past mapping", offset: 40, size: 16, wantErr: halcore.ErrInvalidUsage},
		{name: "misaligned", offset: 20, size: 4, wantErr: halcore.ErrInvalidUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng, err := b.MappedRange(tt.offset, tt.size)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("MappedRange() = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("MappedRange() error = %v", err)
			}
			if rng.Offset() != tt.offset || rng.Size() != tt.wantSize {
				t.Errorf("range = [%d, +%d), want [%d, +%d)", rng.Offset(), rng.Size(), tt.offset, tt.wantSize)
			}
		})
	}
}
