package halcore

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore/internal/track"
)

// ColorAttachment describes one color target of a render pass.
type ColorAttachment struct {
	View          *TextureView
	ResolveTarget *TextureView
	LoadOp        gputypes.LoadOp
	StoreOp       gputypes.StoreOp
	ClearValue    gputypes.Color
}

// DepthStencilAttachment describes the depth/stencil target of a render
// pass. Ops for an aspect the format lacks, or that is read-only, are
// ignored.
type DepthStencilAttachment struct {
	View              *TextureView
	DepthLoadOp       gputypes.LoadOp
	DepthStoreOp      gputypes.StoreOp
	DepthClearValue   float32
	DepthReadOnly     bool
	StencilLoadOp     gputypes.LoadOp
	StencilStoreOp    gputypes.StoreOp
	StencilClearValue uint32
	StencilReadOnly   bool
}

// RenderPassDescriptor describes a render pass.
//
// A zero Extent takes the size of the first attachment; a zero
// SampleCount takes its sample count. Every attachment must match both.
type RenderPassDescriptor struct {
	Label                  string
	ColorAttachments       []ColorAttachment
	DepthStencilAttachment *DepthStencilAttachment
	Extent                 gputypes.Extent3D
	SampleCount            uint32
}

// RenderPass records commands between BeginRenderPass and End.
// Its attachments and bound buffers form one synchronization scope.
type RenderPass struct {
	encoder *CommandEncoder
	desc    RawRenderPass
	scope   *track.Scope
	refs    []resourceRef
	ops     []func(RawRenderPassEncoder)
	ended   bool
}

// attachmentSize is the mip extent a view covers.
func attachmentSize(v *TextureView) gputypes.Extent3D {
	return v.texture.MipSize(v.desc.BaseMipLevel)
}

func validOps(load gputypes.LoadOp, store gputypes.StoreOp) bool {
	return (load == gputypes.LoadOpLoad || load == gputypes.LoadOpClear) &&
		(store == gputypes.StoreOpStore || store == gputypes.StoreOpDiscard)
}

// BeginRenderPass validates desc and starts a render pass. Until the
// pass ends the encoder accepts no other commands.
func (e *CommandEncoder) BeginRenderPass(desc *RenderPassDescriptor) (*RenderPass, error) {
	if err := e.recording("begin render pass"); err != nil {
		return nil, err
	}
	if desc == nil || (len(desc.ColorAttachments) == 0 && desc.DepthStencilAttachment == nil) {
		return nil, fmt.Errorf("%w: render pass has no attachments", ErrInvalidUsage)
	}
	if n := len(desc.ColorAttachments); n > int(e.device.limits.MaxColorAttachments) {
		return nil, fmt.Errorf("%w: %d color attachments, MaxColorAttachments is %d", ErrLimitExceeded, n, e.device.limits.MaxColorAttachments)
	}

	p := &RenderPass{
		encoder: e,
		scope:   track.NewScope(),
		desc: RawRenderPass{
			Label:       desc.Label,
			Extent:      desc.Extent,
			SampleCount: desc.SampleCount,
		},
	}

	for i, ca := range desc.ColorAttachments {
		if err := p.attach(ca.View, "color", track.UsageColorTarget); err != nil {
			return nil, fmt.Errorf("color attachment %d: %w", i, err)
		}
		if ca.View.texture.desc.Format.IsDepthStencil() {
			return nil, fmt.Errorf("%w: color attachment %d has depth format %s", ErrInvalidUsage, i, ca.View.desc.Format)
		}
		if !validOps(ca.LoadOp, ca.StoreOp) {
			return nil, fmt.Errorf("%w: color attachment %d has invalid load/store ops", ErrInvalidUsage, i)
		}
		raw := RawColorAttachment{
			View:       ca.View.raw,
			LoadOp:     ca.LoadOp,
			StoreOp:    ca.StoreOp,
			ClearValue: ca.ClearValue,
		}
		if rt := ca.ResolveTarget; rt != nil {
			if err := p.resolveTarget(ca.View, rt); err != nil {
				return nil, fmt.Errorf("color attachment %d: %w", i, err)
			}
			raw.ResolveTarget = rt.raw
		}
		p.desc.ColorAttachments = append(p.desc.ColorAttachments, raw)
	}

	if ds := desc.DepthStencilAttachment; ds != nil {
		raw, err := p.depthStencil(ds)
		if err != nil {
			return nil, fmt.Errorf("depth/stencil attachment: %w", err)
		}
		p.desc.DepthStencil = raw
	}

	e.state = EncoderRenderPassActive
	e.pass = p
	return p, nil
}

// attach validates an attachment view and records it in the pass scope.
func (p *RenderPass) attach(v *TextureView, kind string, usage track.Usage) error {
	e := p.encoder
	if v == nil {
		return fmt.Errorf("%w: nil %s view", ErrInvalidUsage, kind)
	}
	if v.device != e.device {
		return fmt.Errorf("%w: view %q belongs to another device", ErrInvalidUsage, v.desc.Label)
	}
	if !v.alive() {
		return fmt.Errorf("view %q: %w", v.desc.Label, ErrResourceDestroyed)
	}
	if !v.desc.Usage.Contains(gputypes.TextureUsageRenderAttachment) {
		return fmt.Errorf("%w: view %q lacks RenderAttachment usage", ErrInvalidUsage, v.desc.Label)
	}
	if v.desc.MipLevelCount != 1 || v.desc.ArrayLayerCount != 1 {
		return fmt.Errorf("%w: %s view %q must cover one mip level and one layer", ErrInvalidUsage, kind, v.desc.Label)
	}

	size := attachmentSize(v)
	if p.desc.Extent.Width == 0 && p.desc.Extent.Height == 0 {
		p.desc.Extent = gputypes.Extent3D{Width: size.Width, Height: size.Height, DepthOrArrayLayers: 1}
	}
	if p.desc.Extent.DepthOrArrayLayers == 0 {
		p.desc.Extent.DepthOrArrayLayers = 1
	}
	if p.desc.Extent.Width == 0 || p.desc.Extent.Height == 0 {
		return fmt.Errorf("%w: render extent %dx%d is empty", ErrInvalidUsage, p.desc.Extent.Width, p.desc.Extent.Height)
	}
	if p.desc.Extent.DepthOrArrayLayers > v.desc.ArrayLayerCount {
		return fmt.Errorf("%w: render extent has %d layers, %s view %q has %d",
			ErrInvalidUsage, p.desc.Extent.DepthOrArrayLayers, kind, v.desc.Label, v.desc.ArrayLayerCount)
	}
	if p.desc.Extent.Width > size.Width || p.desc.Extent.Height > size.Height {
		return fmt.Errorf("%w: render extent %dx%d exceeds %s view %q size %dx%d",
			ErrInvalidUsage, p.desc.Extent.Width, p.desc.Extent.Height, kind, v.desc.Label, size.Width, size.Height)
	}
	samples := v.texture.desc.SampleCount
	if p.desc.SampleCount == 0 {
		p.desc.SampleCount = samples
	}
	if samples != p.desc.SampleCount {
		return fmt.Errorf("%w: %s view %q has %d samples, pass uses %d",
			ErrInvalidUsage, kind, v.desc.Label, samples, p.desc.SampleCount)
	}

	t := v.texture
	region := track.TextureRegion(v.desc.BaseMipLevel, 1, v.desc.BaseArrayLayer, 1)
	if err := p.scope.Use(t.key(), region, usage); err != nil {
		return hazard(err)
	}
	p.refs = append(p.refs, resourceRef{texture: t})
	return nil
}

func (p *RenderPass) resolveTarget(src, rt *TextureView) error {
	if src.texture.desc.SampleCount == 1 {
		return fmt.Errorf("%w: resolve target on a single-sampled attachment", ErrInvalidUsage)
	}
	if rt.device != src.device || !rt.alive() {
		return fmt.Errorf("resolve target %q: %w", rt.desc.Label, ErrResourceDestroyed)
	}
	if rt.texture.desc.SampleCount != 1 {
		return fmt.Errorf("%w: resolve target %q is multisampled", ErrInvalidUsage, rt.desc.Label)
	}
	if rt.desc.Format != src.desc.Format {
		return fmt.Errorf("%w: resolve target format %s differs from %s", ErrInvalidUsage, rt.desc.Format, src.desc.Format)
	}
	if !rt.desc.Usage.Contains(gputypes.TextureUsageRenderAttachment) {
		return fmt.Errorf("%w: resolve target %q lacks RenderAttachment usage", ErrInvalidUsage, rt.desc.Label)
	}
	if rt.desc.MipLevelCount != 1 || rt.desc.ArrayLayerCount != 1 {
		return fmt.Errorf("%w: resolve target %q must cover one mip level and one layer", ErrInvalidUsage, rt.desc.Label)
	}
	rs, ss := attachmentSize(rt), attachmentSize(src)
	if rs.Width != ss.Width || rs.Height != ss.Height {
		return fmt.Errorf("%w: resolve target %q size differs from its attachment", ErrInvalidUsage, rt.desc.Label)
	}
	region := track.TextureRegion(rt.desc.BaseMipLevel, 1, rt.desc.BaseArrayLayer, 1)
	if err := p.scope.Use(rt.texture.key(), region, track.UsageResolve); err != nil {
		return hazard(err)
	}
	p.refs = append(p.refs, resourceRef{texture: rt.texture})
	return nil
}

func (p *RenderPass) depthStencil(ds *DepthStencilAttachment) (*RawDepthStencilAttachment, error) {
	if ds.View == nil {
		return nil, fmt.Errorf("%w: nil depth/stencil view", ErrInvalidUsage)
	}
	format := ds.View.desc.Format
	if !format.IsDepthStencil() {
		return nil, fmt.Errorf("%w: view %q format %s is not depth/stencil", ErrInvalidUsage, ds.View.desc.Label, format)
	}
	depthRO := ds.DepthReadOnly || !format.HasDepth()
	stencilRO := ds.StencilReadOnly || !format.HasStencil()
	if !depthRO && !validOps(ds.DepthLoadOp, ds.DepthStoreOp) {
		return nil, fmt.Errorf("%w: invalid depth load/store ops", ErrInvalidUsage)
	}
	if !stencilRO && !validOps(ds.StencilLoadOp, ds.StencilStoreOp) {
		return nil, fmt.Errorf("%w: invalid stencil load/store ops", ErrInvalidUsage)
	}
	if ds.DepthClearValue < 0 || ds.DepthClearValue > 1 {
		return nil, fmt.Errorf("%w: depth clear value %g outside [0, 1]", ErrInvalidUsage, ds.DepthClearValue)
	}

	usage := track.UsageDepthWrite
	if depthRO && stencilRO {
		usage = track.UsageDepthRead
	}
	if err := p.attach(ds.View, "depth/stencil", usage); err != nil {
		return nil, err
	}

	raw := &RawDepthStencilAttachment{
		View:              ds.View.raw,
		DepthClearValue:   ds.DepthClearValue,
		DepthReadOnly:     ds.DepthReadOnly,
		StencilClearValue: ds.StencilClearValue,
		StencilReadOnly:   ds.StencilReadOnly,
	}
	if !depthRO {
		raw.DepthLoadOp, raw.DepthStoreOp = ds.DepthLoadOp, ds.DepthStoreOp
	}
	if !stencilRO {
		raw.StencilLoadOp, raw.StencilStoreOp = ds.StencilLoadOp, ds.StencilStoreOp
	}
	return raw, nil
}

// Extent returns the render area of the pass.
func (p *RenderPass) Extent() gputypes.Extent3D { return p.desc.Extent }

func (p *RenderPass) active(op string) error {
	if p.ended {
		return fmt.Errorf("%w: %s on ended render pass %q", ErrInvalidState, op, p.desc.Label)
	}
	return nil
}

// SetViewport sets the viewport transform. Depth values must satisfy
// 0 <= minDepth <= maxDepth <= 1.
func (p *RenderPass) SetViewport(x, y, width, height, minDepth, maxDepth float32) error {
	if err := p.active("set viewport"); err != nil {
		return err
	}
	if width < 0 || height < 0 {
		return fmt.Errorf("%w: viewport size %gx%g is negative", ErrInvalidUsage, width, height)
	}
	if minDepth < 0 || maxDepth > 1 || minDepth > maxDepth {
		return fmt.Errorf("%w: viewport depth range [%g, %g]", ErrInvalidUsage, minDepth, maxDepth)
	}
	p.ops = append(p.ops, func(rp RawRenderPassEncoder) {
		rp.SetViewport(x, y, width, height, minDepth, maxDepth)
	})
	return nil
}

// SetScissorRect restricts rasterization to a rectangle inside the
// render area.
func (p *RenderPass) SetScissorRect(x, y, width, height uint32) error {
	if err := p.active("set scissor"); err != nil {
		return err
	}
	ext := p.desc.Extent
	if uint64(x)+uint64(width) > uint64(ext.Width) || uint64(y)+uint64(height) > uint64(ext.Height) {
		return fmt.Errorf("%w: scissor %d,%d %dx%d outside render area %dx%d",
			ErrInvalidUsage, x, y, width, height, ext.Width, ext.Height)
	}
	p.ops = append(p.ops, func(rp RawRenderPassEncoder) {
		rp.SetScissorRect(x, y, width, height)
	})
	return nil
}

// SetVertexBuffer binds b from offset to the end to slot.
func (p *RenderPass) SetVertexBuffer(slot uint32, b *Buffer, offset uint64) error {
	if err := p.active("set vertex buffer"); err != nil {
		return err
	}
	if err := p.encoder.useBuffer(b); err != nil {
		return err
	}
	if slot >= p.encoder.device.limits.MaxVertexBuffers {
		return fmt.Errorf("%w: vertex buffer slot %d, MaxVertexBuffers is %d", ErrLimitExceeded, slot, p.encoder.device.limits.MaxVertexBuffers)
	}
	if !b.usage.Contains(gputypes.BufferUsageVertex) {
		return fmt.Errorf("%w: buffer %q lacks Vertex usage", ErrInvalidUsage, b.label)
	}
	if offset%4 != 0 || offset > b.size {
		return fmt.Errorf("%w: vertex buffer %q offset %d", ErrInvalidUsage, b.label, offset)
	}
	if err := p.scope.Use(b.key(), track.BufferRegion(offset, b.size-offset), track.UsageVertex); err != nil {
		return hazard(err)
	}
	p.refs = append(p.refs, resourceRef{buffer: b})
	raw := b.raw
	p.ops = append(p.ops, func(rp RawRenderPassEncoder) {
		rp.SetVertexBuffer(slot, raw, offset)
	})
	return nil
}

// SetIndexBuffer binds b as the index buffer. offset must be aligned to
// the index size.
func (p *RenderPass) SetIndexBuffer(b *Buffer, format gputypes.IndexFormat, offset uint64) error {
	if err := p.active("set index buffer"); err != nil {
		return err
	}
	if err := p.encoder.useBuffer(b); err != nil {
		return err
	}
	if !b.usage.Contains(gputypes.BufferUsageIndex) {
		return fmt.Errorf("%w: buffer %q lacks Index usage", ErrInvalidUsage, b.label)
	}
	size := uint64(format.Size())
	if size == 0 {
		return fmt.Errorf("%w: index format %s", ErrInvalidUsage, format)
	}
	if offset%size != 0 || offset > b.size {
		return fmt.Errorf("%w: index buffer %q offset %d", ErrInvalidUsage, b.label, offset)
	}
	if err := p.scope.Use(b.key(), track.BufferRegion(offset, b.size-offset), track.UsageIndex); err != nil {
		return hazard(err)
	}
	p.refs = append(p.refs, resourceRef{buffer: b})
	raw := b.raw
	p.ops = append(p.ops, func(rp RawRenderPassEncoder) {
		rp.SetIndexBuffer(raw, format, offset)
	})
	return nil
}

// End closes the pass and returns the encoder to Recording.
func (p *RenderPass) End() error {
	if err := p.active("end"); err != nil {
		return err
	}
	return p.encoder.EndRenderPass()
}

// EndRenderPass closes the active render pass.
func (e *CommandEncoder) EndRenderPass() error {
	if e.state != EncoderRenderPassActive || e.pass == nil {
		return fmt.Errorf("%w: end render pass on encoder %q in state %s", ErrInvalidState, e.label, e.state)
	}
	p := e.pass
	p.ended = true
	e.pass = nil
	e.state = EncoderRecording

	desc, ops := p.desc, p.ops
	e.commit(p.scope, p.refs, func(enc RawCommandEncoder) {
		rp := enc.BeginRenderPass(&desc)
		for _, op := range ops {
			op(rp)
		}
		rp.End()
	})
	return nil
}
