package halcore_test

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore"
)

func newEncoder(t *testing.T, d *halcore.Device) *halcore.CommandEncoder {
	t.Helper()
	enc, err := d.CreateCommandEncoder(d.Queue(), t.Name())
	if err != nil {
		t.Fatalf("CreateCommandEncoder() error = %v", err)
	}
	if err := enc.BeginEncoding(); err != nil {
		t.Fatalf("BeginEncoding() error = %v", err)
	}
	t.Cleanup(enc.Discard)
	return enc
}

func clearPass(v *halcore.TextureView) *halcore.RenderPassDescriptor {
	return &halcore.RenderPassDescriptor{
		Label: "clear",
		ColorAttachments: []halcore.ColorAttachment{{
			View:       v,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 1, A: 1},
		}},
	}
}

func TestEncoderStateMachine(t *testing.T) {
	d, _ := openSoft(t)
	b := mustBuffer(t, d, "buf", 64, gputypes.BufferUsageCopyDst)
	view := mustView(t, renderTarget(t, d, "rt", 8, 8), nil)

	enc, err := d.CreateCommandEncoder(d.Queue(), "lifecycle")
	if err != nil {
		t.Fatalf("CreateCommandEncoder() error = %v", err)
	}
	step := func(name string, want halcore.EncoderState, err, wantErr error) {
		t.Helper()
		if !errors.Is(err, wantErr) {
			t.Fatalf("%s: error = %v, want %v", name, err, wantErr)
		}
		if enc.State() != want {
			t.Fatalf("%s: state = %s, want %s", name, enc.State(), want)
		}
	}

	step("initial", halcore.EncoderInitial, nil, nil)
	step("clear before begin", halcore.EncoderInitial, enc.ClearBuffer(b, 0, 0), halcore.ErrInvalidState)
	step("begin", halcore.EncoderRecording, enc.BeginEncoding(), nil)
	step("begin twice", halcore.EncoderRecording, enc.BeginEncoding(), halcore.ErrInvalidState)
	step("end pass without pass", halcore.EncoderRecording, enc.EndRenderPass(), halcore.ErrInvalidState)

	pass, err := enc.BeginRenderPass(clearPass(view))
	step("begin pass", halcore.EncoderRenderPassActive, err, nil)
	step("clear inside pass", halcore.EncoderRenderPassActive, enc.ClearBuffer(b, 0, 0), halcore.ErrInvalidState)
	_, err = enc.BeginRenderPass(clearPass(view))
	step("nested pass", halcore.EncoderRenderPassActive, err, halcore.ErrInvalidState)
	_, err = enc.EndEncoding()
	step("end inside pass", halcore.EncoderRenderPassActive, err, halcore.ErrInvalidState)
	step("end pass", halcore.EncoderRecording, pass.End(), nil)
	step("end pass twice", halcore.EncoderRecording, pass.End(), halcore.ErrInvalidState)
	step("viewport after end", halcore.EncoderRecording, pass.SetViewport(0, 0, 1, 1, 0, 1), halcore.ErrInvalidState)
	step("clear", halcore.EncoderRecording, enc.ClearBuffer(b, 0, 0), nil)

	cb, err := enc.EndEncoding()
	step("end encoding", halcore.EncoderEnded, err, nil)
	if cb.Commands() != 2 {
		t.Errorf("Commands() = %d, want 2", cb.Commands())
	}
	step("clear after end", halcore.EncoderEnded, enc.ClearBuffer(b, 0, 0), halcore.ErrInvalidState)
	_, err = enc.EndEncoding()
	step("end twice", halcore.EncoderEnded, err, halcore.ErrInvalidState)

	enc.Discard()
	if got := d.Stats().Encoders; got != 0 {
		t.Errorf("Encoders = %d after EndEncoding, want 0", got)
	}
	cb.Discard()
}

func TestEncoderDiscard(t *testing.T) {
	d, _ := openSoft(t)
	view := mustView(t, renderTarget(t, d, "rt", 8, 8), nil)

	enc, err := d.CreateCommandEncoder(d.Queue(), "abandoned")
	if err != nil {
		t.Fatalf("CreateCommandEncoder() error = %v", err)
	}
	if got := d.Stats().Encoders; got != 1 {
		t.Fatalf("Encoders = %d, want 1", got)
	}
	if err := enc.BeginEncoding(); err != nil {
		t.Fatalf("BeginEncoding() error = %v", err)
	}
	pass, err := enc.BeginRenderPass(clearPass(view))
	if err != nil {
		t.Fatalf("BeginRenderPass() error = %v", err)
	}
	enc.Discard()
	enc.Discard()
	if enc.State() != halcore.EncoderEnded {
		t.Errorf("State() = %s, want Ended", enc.State())
	}
	if err := pass.End(); !errors.Is(err, halcore.ErrInvalidState) {
		t.Errorf("End() on discarded pass = %v, want ErrInvalidState", err)
	}
	if got := d.Stats().Encoders; got != 0 {
		t.Errorf("Encoders = %d after Discard, want 0", got)
	}
}

func TestEncoderForeignQueue(t *testing.T) {
	d, _ := openSoft(t)
	other, _ := openSoft(t)
	if _, err := d.CreateCommandEncoder(other.Queue(), "foreign"); !errors.Is(err, halcore.ErrInvalidState) {
		t.Errorf("CreateCommandEncoder(foreign queue) = %v, want ErrInvalidState", err)
	}
	if _, err := d.CreateCommandEncoder(nil, "nil"); !errors.Is(err, halcore.ErrInvalidState) {
		t.Errorf("CreateCommandEncoder(nil) = %v, want ErrInvalidState", err)
	}

	b := mustBuffer(t, other, "elsewhere", 64, gputypes.BufferUsageCopyDst)
	enc := newEncoder(t, d)
	if err := enc.ClearBuffer(b, 0, 0); !errors.Is(err, halcore.ErrInvalidUsage) {
		t.Errorf("ClearBuffer(foreign buffer) = %v, want ErrInvalidUsage", err)
	}
}

func TestTransferValidation(t *testing.T) {
	d, _ := openSoft(t)
	src := mustBuffer(t, d, "src", 64, gputypes.BufferUsageCopySrc)
	dst := mustBuffer(t, d, "dst", 64, gputypes.BufferUsageCopyDst)
	both := mustBuffer(t, d, "both", 64, gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)

	tests := []struct {
		name    string
		record  func(*halcore.CommandEncoder) error
		wantErr error
	}{
		{"clear", func(e *halcore.CommandEncoder) error { return e.ClearBuffer(dst, 16, 16) }, nil},
		{"clear to end", func(e *halcore.CommandEncoder) error { return e.ClearBuffer(dst, 60, 0) }, nil},
		{"clear without CopyDst", func(e *halcore.CommandEncoder) error { return e.ClearBuffer(src, 0, 0) }, halcore.ErrInvalidUsage},
		{"clear misaligned", func(e *halcore.CommandEncoder) error { return e.ClearBuffer(dst, 2, 4) }, halcore.ErrInvalidUsage},
		{"clear past end", func(e *halcore.CommandEncoder) error { return e.ClearBuffer(dst, 32, 64) }, halcore.ErrInvalidUsage},
		{"clear nil", func(e *halcore.CommandEncoder) error { return e.ClearBuffer(nil, 0, 0) }, halcore.ErrInvalidUsage},
		{"copy", func(e *halcore.CommandEncoder) error { return e.CopyBufferToBuffer(src, 0, dst, 32, 32) }, nil},
		{"copy empty", func(e *halcore.CommandEncoder) error { return e.CopyBufferToBuffer(src, 64, dst, 64, 0) }, nil},
		{"copy from CopyDst only", func(e *halcore.CommandEncoder) error { return e.CopyBufferToBuffer(dst, 0, both, 0, 4) }, halcore.ErrInvalidUsage},
		{"copy to CopySrc only", func(e *halcore.CommandEncoder) error { return e.CopyBufferToBuffer(both, 0, src, 0, 4) }, halcore.ErrInvalidUsage},
		{"copy misaligned", func(e *halcore.CommandEncoder) error { return e.CopyBufferToBuffer(src, 0, dst, 0, 6) }, halcore.ErrInvalidUsage},
		{"copy source overrun", func(e *halcore.CommandEncoder) error { return e.CopyBufferToBuffer(src, 48, dst, 0, 32) }, halcore.ErrInvalidUsage},
		{"copy destination overrun", func(e *halcore.CommandEncoder) error { return e.CopyBufferToBuffer(src, 0, dst, 48, 32) }, halcore.ErrInvalidUsage},
		{"self copy disjoint", func(e *halcore.CommandEncoder) error { return e.CopyBufferToBuffer(both, 0, both, 32, 32) }, nil},
		{"self copy overlapping", func(e *halcore.CommandEncoder) error { return e.CopyBufferToBuffer(both, 0, both, 16, 32) }, halcore.ErrResourceHazard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := newEncoder(t, d)
			if err := tt.record(enc); !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if enc.State() != halcore.EncoderRecording {
				t.Errorf("State() = %s after a command, want Recording", enc.State())
			}
		})
	}
}

func TestBarriers(t *testing.T) {
	d, api := openSoft(t)
	b := mustBuffer(t, d, "b", 64, gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)
	dst := mustBuffer(t, d, "dst", 64, gputypes.BufferUsageCopyDst)

	tests := []struct {
		name   string
		record func(*halcore.CommandEncoder) error
		want   uint64
	}{
		{
			// Entry transition from the initial state plus one between the
			// two writes.
			name: "write after write",
			record: func(e *halcore.CommandEncoder) error {
				if err := e.ClearBuffer(b, 0, 0); err != nil {
					return err
				}
				return e.ClearBuffer(b, 0, 0)
			},
			want: 2,
		},
		{
			name:   "write again in a later submission",
			record: func(e *halcore.CommandEncoder) error { return e.ClearBuffer(b, 0, 0) },
			want:   1,
		},
		{
			// b: CopyDst -> CopySrc; dst: None -> CopyDst at entry.
			name:   "write then read",
			record: func(e *halcore.CommandEncoder) error { return e.CopyBufferToBuffer(b, 0, dst, 0, 64) },
			want:   2,
		},
		{
			// b stays CopySrc; dst repeats a write.
			name:   "read after read",
			record: func(e *halcore.CommandEncoder) error { return e.CopyBufferToBuffer(b, 0, dst, 0, 64) },
			want:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := api.Stats().BufferBarriers
			submit(t, d, record(t, d, func(enc *halcore.CommandEncoder) {
				if err := tt.record(enc); err != nil {
					t.Fatalf("record error = %v", err)
				}
			}))
			pollWait(t, d)
			if got := api.Stats().BufferBarriers - before; got != tt.want {
				t.Errorf("buffer barriers = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBarriersAcrossBatch(t *testing.T) {
	d, api := openSoft(t)
	b := mustBuffer(t, d, "b", 64, gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)
	dst := mustBuffer(t, d, "dst", 64, gputypes.BufferUsageCopyDst)

	write := record(t, d, func(enc *halcore.CommandEncoder) {
		if err := enc.ClearBuffer(b, 0, 0); err != nil {
			t.Fatalf("ClearBuffer() error = %v", err)
		}
	})
	read := record(t, d, func(enc *halcore.CommandEncoder) {
		if err := enc.CopyBufferToBuffer(b, 0, dst, 0, 64); err != nil {
			t.Fatalf("CopyBufferToBuffer() error = %v", err)
		}
	})
	// write: b None->CopyDst. read: b CopyDst->CopySrc, dst None->CopyDst.
	submit(t, d, write, read)
	pollWait(t, d)
	if got := api.Stats().BufferBarriers; got != 3 {
		t.Errorf("buffer barriers = %d, want 3", got)
	}
}

func TestRenderPass(t *testing.T) {
	d, api := openSoft(t)
	tex := renderTarget(t, d, "target", 4, 4)
	view := mustView(t, tex, nil)

	vb := mustBuffer(t, d, "geometry", 256, gputypes.BufferUsageVertex|gputypes.BufferUsageIndex)
	cb := record(t, d, func(enc *halcore.CommandEncoder) {
		pass, err := enc.BeginRenderPass(clearPass(view))
		if err != nil {
			t.Fatalf("BeginRenderPass() error = %v", err)
		}
		if ext := pass.Extent(); ext.Width != 4 || ext.Height != 4 {
			t.Errorf("Extent() = %+v, want 4x4", ext)
		}
		if err := pass.SetViewport(0, 0, 4, 4, 0, 1); err != nil {
			t.Errorf("SetViewport() error = %v", err)
		}
		if err := pass.SetScissorRect(1, 1, 2, 2); err != nil {
			t.Errorf("SetScissorRect() error = %v", err)
		}
		if err := pass.SetVertexBuffer(0, vb, 0); err != nil {
			t.Errorf("SetVertexBuffer() error = %v", err)
		}
		if err := pass.SetIndexBuffer(vb, gputypes.IndexFormatUint16, 128); err != nil {
			t.Errorf("SetIndexBuffer() on the vertex buffer error = %v", err)
		}
		if err := pass.End(); err != nil {
			t.Fatalf("End() error = %v", err)
		}
	})
	submit(t, d, cb)
	pollWait(t, d)

	st := api.Stats()
	if st.RenderPasses != 1 {
		t.Errorf("RenderPasses = %d, want 1", st.RenderPasses)
	}
	if st.TextureBarriers == 0 {
		t.Error("no texture barrier moved the target into ColorTarget")
	}
	px := api.ReadTexture("target", 0, 0)
	if len(px) != 4*4*4 || px[0] != 255 || px[1] != 0 || px[3] != 255 {
		t.Errorf("first texel = %v, want opaque red", px[:4])
	}
}

func TestRenderPassValidation(t *testing.T) {
	d, _ := openSoft(t)
	rt := mustView(t, renderTarget(t, d, "rt", 8, 8), nil)
	small := mustView(t, renderTarget(t, d, "small", 4, 4), nil)
	sampled := mustView(t, mustTexture(t, d, gputypes.TextureDescriptor{
		Label:  "sampled",
		Size:   gputypes.Extent3D{Width: 8, Height: 8},
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding,
	}), nil)
	depth := mustView(t, mustTexture(t, d, gputypes.TextureDescriptor{
		Label:  "depth",
		Size:   gputypes.Extent3D{Width: 8, Height: 8},
		Format: gputypes.TextureFormatDepth24PlusStencil8,
		Usage:  gputypes.TextureUsageRenderAttachment,
	}), nil)
	msaa := mustView(t, mustTexture(t, d, gputypes.TextureDescriptor{
		Label:       "msaa",
		Size:        gputypes.Extent3D{Width: 8, Height: 8},
		SampleCount: 4,
		Format:      gputypes.TextureFormatRGBA8Unorm,
		Usage:       gputypes.TextureUsageRenderAttachment,
	}), nil)
	mips := mustTexture(t, d, gputypes.TextureDescriptor{
		Label:         "mips",
		Size:          gputypes.Extent3D{Width: 8, Height: 8},
		MipLevelCount: 2,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageRenderAttachment,
	})
	allMips := mustView(t, mips, nil)
	mip1 := mustView(t, mips, &halcore.TextureViewDescriptor{BaseMipLevel: 1, MipLevelCount: 1})

	color := func(v *halcore.TextureView) halcore.ColorAttachment {
		return halcore.ColorAttachment{View: v, LoadOp: gputypes.LoadOpLoad, StoreOp: gputypes.StoreOpStore}
	}
	depthOps := &halcore.DepthStencilAttachment{
		View:           depth,
		DepthLoadOp:    gputypes.LoadOpClear,
		DepthStoreOp:   gputypes.StoreOpStore,
		StencilLoadOp:  gputypes.LoadOpClear,
		StencilStoreOp: gputypes.StoreOpDiscard,
	}
	tooMany := make([]halcore.ColorAttachment, 9)
	for i := range tooMany {
		tooMany[i] = color(rt)
	}

	tests := []struct {
		name    string
		desc    *halcore.RenderPassDescriptor
		wantErr error
	}{
		{name: "color", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(rt)}}},
		{name: "color and depth", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(rt)}, DepthStencilAttachment: depthOps}},
		{name: "depth only", desc: &halcore.RenderPassDescriptor{DepthStencilAttachment: depthOps}},
		{name: "read-only depth", desc: &halcore.RenderPassDescriptor{DepthStencilAttachment: &halcore.DepthStencilAttachment{View: depth, DepthReadOnly: true, StencilReadOnly: true}}},
		{name: "msaa resolve", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{{View: msaa, ResolveTarget: rt, LoadOp: gputypes.LoadOpClear, StoreOp: gputypes.StoreOpDiscard}}}},
		{name: "smaller extent", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(rt)}, Extent: gputypes.Extent3D{Width: 4, Height: 4}}},
		{name: "mip level view", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(mip1), color(small)}}},
		{name: "nil descriptor", wantErr: halcore.ErrInvalidUsage},
		{name: "no attachments", desc: &halcore.RenderPassDescriptor{}, wantErr: halcore.ErrInvalidUsage},
		{name: "too many colors", desc: &halcore.RenderPassDescriptor{ColorAttachments: tooMany}, wantErr: halcore.ErrLimitExceeded},
		{name: "nil view", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{{LoadOp: gputypes.LoadOpLoad, StoreOp: gputypes.StoreOpStore}}}, wantErr: halcore.ErrInvalidUsage},
		{name: "not a render attachment", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(sampled)}}, wantErr: halcore.ErrInvalidUsage},
		{name: "depth as color", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(depth)}}, wantErr: halcore.ErrInvalidUsage},
		{name: "undefined load op", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{{View: rt, StoreOp: gputypes.StoreOpStore}}}, wantErr: halcore.ErrInvalidUsage},
		{name: "multi-level view", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(allMips)}}, wantErr: halcore.ErrInvalidUsage},
		{name: "extent too large", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(rt)}, Extent: gputypes.Extent3D{Width: 16, Height: 16}}, wantErr: halcore.ErrInvalidUsage},
		{name: "zero width extent", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(rt)}, Extent: gputypes.Extent3D{Height: 4, DepthOrArrayLayers: 1}}, wantErr: halcore.ErrInvalidUsage},
		{name: "zero height extent", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(rt)}, Extent: gputypes.Extent3D{Width: 4}}, wantErr: halcore.ErrInvalidUsage},
		{name: "extent layers exceed view", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(rt)}, Extent: gputypes.Extent3D{Width: 8, Height: 8, DepthOrArrayLayers: 16}}, wantErr: halcore.ErrInvalidUsage},
		{name: "mismatched sizes", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(rt), color(small)}}, wantErr: halcore.ErrInvalidUsage},
		{name: "mismatched samples", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(rt), color(msaa)}}, wantErr: halcore.ErrInvalidUsage},
		{name: "resolve single-sampled", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{{View: rt, ResolveTarget: small, LoadOp: gputypes.LoadOpLoad, StoreOp: gputypes.StoreOpStore}}}, wantErr: halcore.ErrInvalidUsage},
		{name: "resolve into msaa", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{{View: msaa, ResolveTarget: msaa, LoadOp: gputypes.LoadOpLoad, StoreOp: gputypes.StoreOpStore}}}, wantErr: halcore.ErrInvalidUsage},
		{name: "color used twice", desc: &halcore.RenderPassDescriptor{ColorAttachments: []halcore.ColorAttachment{color(rt), color(rt)}}, wantErr: halcore.ErrResourceHazard},
		{name: "depth clear out of range", desc: &halcore.RenderPassDescriptor{DepthStencilAttachment: &halcore.DepthStencilAttachment{View: depth, DepthLoadOp: gputypes.LoadOpClear, DepthStoreOp: gputypes.StoreOpStore, DepthClearValue: 2, StencilReadOnly: true}}, wantErr: halcore.ErrInvalidUsage},
		{name: "color view as depth", desc: &halcore.RenderPassDescriptor{DepthStencilAttachment: &halcore.DepthStencilAttachment{View: rt, DepthReadOnly: true, StencilReadOnly: true}}, wantErr: halcore.ErrInvalidUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := newEncoder(t, d)
			pass, err := enc.BeginRenderPass(tt.desc)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("BeginRenderPass() = %v, want %v", err, tt.wantErr)
				}
				if enc.State() != halcore.EncoderRecording {
					t.Errorf("failed BeginRenderPass left state %s", enc.State())
				}
				return
			}
			if err != nil {
				t.Fatalf("BeginRenderPass() error = %v", err)
			}
			if err := pass.End(); err != nil {
				t.Fatalf("End() error = %v", err)
			}
		})
	}
}

func TestRenderPassCommands(t *testing.T) {
	d, _ := openSoft(t)
	rt := mustView(t, renderTarget(t, d, "rt", 8, 8), nil)
	vb := mustBuffer(t, d, "vertices", 64, gputypes.BufferUsageVertex)
	ib := mustBuffer(t, d, "indices", 64, gputypes.BufferUsageIndex)

	tests := []struct {
		name    string
		cmd     func(*halcore.RenderPass) error
		wantErr error
	}{
		{"viewport", func(p *halcore.RenderPass) error { return p.SetViewport(0, 0, 8, 8, 0, 1) }, nil},
		{"viewport negative", func(p *halcore.RenderPass) error { return p.SetViewport(0, 0, -1, 8, 0, 1) }, halcore.ErrInvalidUsage},
		{"viewport depth inverted", func(p *halcore.RenderPass) error { return p.SetViewport(0, 0, 8, 8, 0.8, 0.2) }, halcore.ErrInvalidUsage},
		{"viewport depth above one", func(p *halcore.RenderPass) error { return p.SetViewport(0, 0, 8, 8, 0, 1.5) }, halcore.ErrInvalidUsage},
		{"scissor full", func(p *halcore.RenderPass) error { return p.SetScissorRect(0, 0, 8, 8) }, nil},
		{"scissor outside", func(p *halcore.RenderPass) error { return p.SetScissorRect(4, 4, 8, 1) }, halcore.ErrInvalidUsage},
		{"vertex", func(p *halcore.RenderPass) error { return p.SetVertexBuffer(7, vb, 16) }, nil},
		{"vertex slot over limit", func(p *halcore.RenderPass) error { return p.SetVertexBuffer(8, vb, 0) }, halcore.ErrLimitExceeded},
		{"vertex wrong usage", func(p *halcore.RenderPass) error { return p.SetVertexBuffer(0, ib, 0) }, halcore.ErrInvalidUsage},
		{"vertex misaligned", func(p *halcore.RenderPass) error { return p.SetVertexBuffer(0, vb, 2) }, halcore.ErrInvalidUsage},
		{"index", func(p *halcore.RenderPass) error { return p.SetIndexBuffer(ib, gputypes.IndexFormatUint32, 8) }, nil},
		{"index misaligned", func(p *halcore.RenderPass) error { return p.SetIndexBuffer(ib, gputypes.IndexFormatUint32, 2) }, halcore.ErrInvalidUsage},
		{"index wrong usage", func(p *halcore.RenderPass) error { return p.SetIndexBuffer(vb, gputypes.IndexFormatUint16, 0) }, halcore.ErrInvalidUsage},
		{"index undefined format", func(p *halcore.RenderPass) error { return p.SetIndexBuffer(ib, gputypes.IndexFormatUndefined, 0) }, halcore.ErrInvalidUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := newEncoder(t, d)
			pass, err := enc.BeginRenderPass(clearPass(rt))
			if err != nil {
				t.Fatalf("BeginRenderPass() error = %v", err)
			}
			if err := tt.cmd(pass); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if err := pass.End(); err != nil {
				t.Fatalf("End() error = %v", err)
			}
		})
	}
}
