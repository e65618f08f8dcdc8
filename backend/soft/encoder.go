package soft

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore"
	"github.com/gogpu/halcore/internal/workpool"
)

// Clears and copies of at least parallelThreshold bytes are split into
// chunkSize pieces and run on the shared pool.
const (
	parallelThreshold = 8 << 20
	chunkSize         = 2 << 20
)

var sharedPool = sync.OnceValue(func() *workpool.Pool { return workpool.New(0) })

// zero clears b, in parallel when it is large.
func zero(b []byte) {
	n := uint64(len(b))
	if n < parallelThreshold {
		clear(b)
		return
	}
	sharedPool().Run(workpool.Split(n, chunkSize, func(lo, hi uint64) { clear(b[lo:hi]) }))
}

// move copies src into dst, in parallel when it is large. The slices
// have equal length and do not overlap.
func move(dst, src []byte) {
	n := uint64(len(src))
	if n < parallelThreshold {
		copy(dst, src)
		return
	}
	sharedPool().Run(workpool.Split(n, chunkSize, func(lo, hi uint64) { copy(dst[lo:hi], src[lo:hi]) }))
}

type encoder struct {
	dev       *device
	label     string
	recording bool
	ops       []func()
}

type cmdBuffer struct {
	dev   *device
	label string
	ops   []func()
}

func (cb *cmdBuffer) run() {
	for _, op := range cb.ops {
		op()
	}
}

func (e *encoder) BeginEncoding(label string) error {
	if e.recording {
		return fmt.Errorf("%w: encoder %q already recording", errBackend, e.label)
	}
	e.recording = true
	e.label = label
	e.ops = nil
	return nil
}

func (e *encoder) EndEncoding() (halcore.RawCommandBuffer, error) {
	if !e.recording {
		return nil, fmt.Errorf("%w: encoder %q not recording", errBackend, e.label)
	}
	e.recording = false
	cb := &cmdBuffer{dev: e.dev, label: e.label, ops: e.ops}
	e.ops = nil
	return cb, nil
}

func (e *encoder) DiscardEncoding() {
	e.recording = false
	e.ops = nil
}

func (e *encoder) TransitionBuffers(barriers []halcore.BufferBarrier) {
	n := uint64(len(barriers))
	api := e.dev.adapter.api
	e.ops = append(e.ops, func() { api.bufferBarriers.Add(n) })
}

func (e *encoder) TransitionTextures(barriers []halcore.TextureBarrier) {
	n := uint64(len(barriers))
	api := e.dev.adapter.api
	e.ops = append(e.ops, func() { api.textureBarriers.Add(n) })
}

func (e *encoder) ClearBuffer(raw halcore.RawBuffer, offset, size uint64) {
	b := raw.(*buffer)
	api := e.dev.adapter.api
	e.ops = append(e.ops, func() {
		api.clears.Add(1)
		if data := b.peek(); data != nil {
			zero(data[offset : offset+size])
		}
	})
}

func (e *encoder) CopyBufferToBuffer(rawSrc, rawDst halcore.RawBuffer, region halcore.BufferCopy) {
	src, dst := rawSrc.(*buffer), rawDst.(*buffer)
	api := e.dev.adapter.api
	e.ops = append(e.ops, func() {
		api.copies.Add(1)
		from := src.peek()
		if from == nil {
			if to := dst.peek(); to != nil {
				zero(to[region.DstOffset : region.DstOffset+region.Size])
			}
			return
		}
		to := dst.bytes()
		move(to[region.DstOffset:region.DstOffset+region.Size], from[region.SrcOffset:region.SrcOffset+region.Size])
	})
}

func (e *encoder) BeginRenderPass(desc *halcore.RawRenderPass) halcore.RawRenderPassEncoder {
	return &passEncoder{enc: e, desc: *desc}
}

// passEncoder records render pass state. Only attachment load, store and
// resolve operations have an effect on memory.
type passEncoder struct {
	enc  *encoder
	desc halcore.RawRenderPass

	viewport [6]float32
	scissor  [4]uint32
	vertex   map[uint32]*buffer
	index    *buffer
}

func (p *passEncoder) SetViewport(x, y, width, height, minDepth, maxDepth float32) {
	p.viewport = [6]float32{x, y, width, height, minDepth, maxDepth}
}

func (p *passEncoder) SetScissorRect(x, y, width, height uint32) {
	p.scissor = [4]uint32{x, y, width, height}
}

func (p *passEncoder) SetVertexBuffer(slot uint32, raw halcore.RawBuffer, offset uint64) {
	if p.vertex == nil {
		p.vertex = make(map[uint32]*buffer)
	}
	p.vertex[slot] = raw.(*buffer)
}

func (p *passEncoder) SetIndexBuffer(raw halcore.RawBuffer, format gputypes.IndexFormat, offset uint64) {
	p.index = raw.(*buffer)
}

func (p *passEncoder) End() {
	desc := p.desc
	api := p.enc.dev.adapter.api
	p.enc.ops = append(p.enc.ops, func() {
		api.renderPasses.Add(1)
		w, h := desc.Extent.Width, desc.Extent.Height
		for _, ca := range desc.ColorAttachments {
			v := ca.View.(*view)
			if ca.LoadOp == gputypes.LoadOpClear {
				fillRect(v, w, h, EncodeColor(v.desc.Format, ca.ClearValue))
			}
			if ca.ResolveTarget != nil {
				copyRect(ca.ResolveTarget.(*view), v, w, h)
			}
			if ca.StoreOp == gputypes.StoreOpDiscard {
				fillRect(v, w, h, make([]byte, TexelBytes(v.desc.Format)))
			}
		}
		if ds := desc.DepthStencil; ds != nil {
			v := ds.View.(*view)
			if ds.DepthLoadOp == gputypes.LoadOpClear {
				fillRect(v, w, h, EncodeDepth(v.desc.Format, ds.DepthClearValue))
			}
			if ds.StencilLoadOp == gputypes.LoadOpClear && v.desc.Format == gputypes.TextureFormatStencil8 {
				fillRect(v, w, h, []byte{byte(ds.StencilClearValue)})
			}
		}
	})
}

// fillRect writes texel into the top-left w x h texels of the view's
// subresource.
func fillRect(v *view, w, h uint32, texel []byte) {
	if len(texel) == 0 {
		return
	}
	data := v.tex.sub(v.desc.BaseMipLevel, v.desc.BaseArrayLayer)
	if data == nil {
		return
	}
	tw, _, _ := v.tex.extent(v.desc.BaseMipLevel)
	n := len(texel)
	for y := range h {
		row := int(y) * int(tw) * n
		for x := range w {
			copy(data[row+int(x)*n:], texel)
		}
	}
}

func copyRect(dst, src *view, w, h uint32) {
	from := src.tex.sub(src.desc.BaseMipLevel, src.desc.BaseArrayLayer)
	to := dst.tex.sub(dst.desc.BaseMipLevel, dst.desc.BaseArrayLayer)
	if from == nil || to == nil || src.tex.texel != dst.tex.texel {
		return
	}
	sw, _, _ := src.tex.extent(src.desc.BaseMipLevel)
	dw, _, _ := dst.tex.extent(dst.desc.BaseMipLevel)
	n := src.tex.texel
	for y := range h {
		s := int(y) * int(sw) * n
		d := int(y) * int(dw) * n
		copy(to[d:d+int(w)*n], from[s:s+int(w)*n])
	}
}
