package halcore_test

import (
	"context"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore"
	"github.com/gogpu/halcore/backend/soft"
)

// openSoft opens a device on a fresh software backend and destroys it
// when the test ends.
func openSoft(t *testing.T, opts ...soft.Option) (*halcore.Device, *soft.API) {
	t.Helper()
	api := soft.New(opts...)
	adapters, err := halcore.Enumerate(halcore.WithApi(api))
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	d, err := adapters[0].Open(0, gputypes.Limits{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(d.Destroy)
	return d, api
}

func mustBuffer(t *testing.T, d *halcore.Device, label string, size uint64, usage gputypes.BufferUsage) *halcore.Buffer {
	t.Helper()
	b, err := d.CreateBuffer(gputypes.BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		t.Fatalf("CreateBuffer(%q) error = %v", label, err)
	}
	return b
}

func mustTexture(t *testing.T, d *halcore.Device, desc gputypes.TextureDescriptor) *halcore.Texture {
	t.Helper()
	tex, err := d.CreateTexture(desc)
	if err != nil {
		t.Fatalf("CreateTexture(%q) error = %v", desc.Label, err)
	}
	return tex
}

func mustView(t *testing.T, tex *halcore.Texture, desc *halcore.TextureViewDescriptor) *halcore.TextureView {
	t.Helper()
	v, err := tex.CreateView(desc)
	if err != nil {
		t.Fatalf("CreateView(%q) error = %v", tex.Label(), err)
	}
	return v
}

func renderTarget(t *testing.T, d *halcore.Device, label string, w, h uint32) *halcore.Texture {
	t.Helper()
	return mustTexture(t, d, gputypes.TextureDescriptor{
		Label:  label,
		Size:   gputypes.Extent3D{Width: w, Height: h},
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
}

// record returns a finished command buffer holding whatever fn records.
func record(t *testing.T, d *halcore.Device, fn func(*halcore.CommandEncoder)) *halcore.CommandBuffer {
	t.Helper()
	enc, err := d.CreateCommandEncoder(d.Queue(), t.Name())
	if err != nil {
		t.Fatalf("CreateCommandEncoder() error = %v", err)
	}
	if err := enc.BeginEncoding(); err != nil {
		t.Fatalf("BeginEncoding() error = %v", err)
	}
	fn(enc)
	cb, err := enc.EndEncoding()
	if err != nil {
		t.Fatalf("EndEncoding() error = %v", err)
	}
	return cb
}

func submit(t *testing.T, d *halcore.Device, cbs ...*halcore.CommandBuffer) halcore.SubmissionIndex {
	t.Helper()
	idx, err := d.Queue().Submit(cbs)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return idx
}

func pollWait(t *testing.T, d *halcore.Device) bool {
	t.Helper()
	progress, err := d.Poll(context.Background(), halcore.PollWait)
	if err != nil {
		t.Fatalf("Poll(PollWait) error = %v", err)
	}
	return progress
}
