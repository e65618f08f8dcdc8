package wgpuhal

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/halcore"
)

// encoder owns one HAL command encoder. The HAL encoder is destroyed with
// the command buffer it produced, or on discard.
type encoder struct {
	device *device
	raw    hal.CommandEncoder
}

type commandBuffer struct {
	raw     hal.CommandBuffer
	encoder hal.CommandEncoder
}

func (e *encoder) BeginEncoding(label string) error {
	return e.device.check(e.raw.BeginEncoding(label))
}

func (e *encoder) EndEncoding() (halcore.RawCommandBuffer, error) {
	cb, err := e.raw.EndEncoding()
	if err != nil {
		return nil, e.device.check(err)
	}
	return &commandBuffer{raw: cb, encoder: e.raw}, nil
}

func (e *encoder) DiscardEncoding() {
	e.raw.DiscardEncoding()
	e.raw.Destroy()
}

func (e *encoder) TransitionBuffers(barriers []halcore.BufferBarrier) {
	out := make([]hal.BufferBarrier, 0, len(barriers))
	for _, b := range barriers {
		out = append(out, hal.BufferBarrier{
			Buffer: b.Buffer.(hal.Buffer),
			Usage:  hal.BufferUsageTransition{OldUsage: b.From, NewUsage: b.To},
		})
	}
	e.raw.TransitionBuffers(out)
}

func (e *encoder) TransitionTextures(barriers []halcore.TextureBarrier) {
	out := make([]hal.TextureBarrier, 0, len(barriers))
	for _, b := range barriers {
		out = append(out, hal.TextureBarrier{
			Texture: b.Texture.(hal.Texture),
			Range: hal.TextureRange{
				Aspect:          gputypes.TextureAspectAll,
				BaseMipLevel:    b.BaseMipLevel,
				MipLevelCount:   b.MipLevelCount,
				BaseArrayLayer:  b.BaseArrayLayer,
				ArrayLayerCount: b.LayerCount,
			},
			Usage: hal.TextureUsageTransition{OldUsage: b.From, NewUsage: b.To},
		})
	}
	e.raw.TransitionTextures(out)
}

func (e *encoder) ClearBuffer(buf halcore.RawBuffer, offset, size uint64) {
	e.raw.ClearBuffer(buf.(hal.Buffer), offset, size)
}

func (e *encoder) CopyBufferToBuffer(src, dst halcore.RawBuffer, region halcore.BufferCopy) {
	e.raw.CopyBufferToBuffer(src.(hal.Buffer), dst.(hal.Buffer), []hal.BufferCopy{{
		SrcOffset: region.SrcOffset,
		DstOffset: region.DstOffset,
		Size:      region.Size,
	}})
}

func (e *encoder) BeginRenderPass(desc *halcore.RawRenderPass) halcore.RawRenderPassEncoder {
	rp := &hal.RenderPassDescriptor{
		Label:            desc.Label,
		ColorAttachments: make([]hal.RenderPassColorAttachment, 0, len(desc.ColorAttachments)),
	}
	for _, ca := range desc.ColorAttachments {
		a := hal.RenderPassColorAttachment{
			View:       ca.View.(hal.TextureView),
			LoadOp:     ca.LoadOp,
			StoreOp:    ca.StoreOp,
			ClearValue: ca.ClearValue,
		}
		if ca.ResolveTarget != nil {
			a.ResolveTarget = ca.ResolveTarget.(hal.TextureView)
		}
		rp.ColorAttachments = append(rp.ColorAttachments, a)
	}
	if ds := desc.DepthStencil; ds != nil {
		rp.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:              ds.View.(hal.TextureView),
			DepthLoadOp:       ds.DepthLoadOp,
			DepthStoreOp:      ds.DepthStoreOp,
			DepthClearValue:   ds.DepthClearValue,
			DepthReadOnly:     ds.DepthReadOnly,
			StencilLoadOp:     ds.StencilLoadOp,
			StencilStoreOp:    ds.StencilStoreOp,
			StencilClearValue: ds.StencilClearValue,
			StencilReadOnly:   ds.StencilReadOnly,
		}
	}
	return &passEncoder{raw: e.raw.BeginRenderPass(rp)}
}

type passEncoder struct {
	raw hal.RenderPassEncoder
}

func (p *passEncoder) SetViewport(x, y, width, height, minDepth, maxDepth float32) {
	p.raw.SetViewport(x, y, width, height, minDepth, maxDepth)
}

func (p *passEncoder) SetScissorRect(x, y, width, height uint32) {
	p.raw.SetScissorRect(x, y, width, height)
}

func (p *passEncoder) SetVertexBuffer(slot uint32, buf halcore.RawBuffer, offset uint64) {
	p.raw.SetVertexBuffer(slot, buf.(hal.Buffer), offset)
}

func (p *passEncoder) SetIndexBuffer(buf halcore.RawBuffer, format gputypes.IndexFormat, offset uint64) {
	p.raw.SetIndexBuffer(buf.(hal.Buffer), format, offset)
}

func (p *passEncoder) End() { p.raw.End() }
