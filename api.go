package halcore

import (
	"context"

	"github.com/gogpu/gputypes"
)

// Api is the capability interface implemented once per backend family
// (Vulkan, Metal, D3D12, GL, software). The core only ever talks to
// backends through Api and the Raw* interfaces below, so a new backend
// plugs in without touching core logic.
type Api interface {
	// Name is the registry name of the backend family ("vulkan", "soft", ...).
	Name() string

	// Backend reports the graphics API family.
	Backend() gputypes.Backend

	// Probe discovers the adapters this backend can drive right now.
	// Each call re-probes; results are never cached.
	Probe() ([]ExposedAdapter, error)
}

// ExposedAdapter bundles a backend adapter with its capabilities.
type ExposedAdapter struct {
	Adapter  RawAdapter
	Info     gputypes.AdapterInfo
	Features gputypes.Features
	Limits   gputypes.Limits
}

// Opaque backend handles. The core never inspects them; each backend
// type-asserts its own concrete types.
type (
	RawBuffer        interface{}
	RawTexture       interface{}
	RawTextureView   interface{}
	RawShaderModule  interface{}
	RawCommandBuffer interface{}
)

// RawAdapter opens logical devices.
type RawAdapter interface {
	Open(features gputypes.Features, limits gputypes.Limits) (RawDevice, RawQueue, error)
}

// RawDevice creates and destroys backend resources.
// Descriptors passed in are already validated and fully resolved.
type RawDevice interface {
	CreateBuffer(desc *gputypes.BufferDescriptor) (RawBuffer, error)
	DestroyBuffer(buf RawBuffer)

	// MapBuffer returns host-visible memory for [offset, offset+size).
	// The slice stays valid until UnmapBuffer.
	MapBuffer(buf RawBuffer, offset, size uint64) ([]byte, error)
	UnmapBuffer(buf RawBuffer) error

	CreateTexture(desc *gputypes.TextureDescriptor) (RawTexture, error)
	DestroyTexture(tex RawTexture)
	CreateTextureView(tex RawTexture, desc *TextureViewDescriptor) (RawTextureView, error)
	DestroyTextureView(view RawTextureView)

	CreateShaderModule(label string, words []uint32) (RawShaderModule, error)
	DestroyShaderModule(module RawShaderModule)

	CreateCommandEncoder(label string) (RawCommandEncoder, error)
	FreeCommandBuffer(cmd RawCommandBuffer)

	Destroy()
}

// SubmitBatch is one queue submission as seen by a backend.
type SubmitBatch struct {
	CommandBuffers []RawCommandBuffer

	// WaitFor lists backend submission indices this batch must be ordered
	// after. Indices already complete are still listed.
	WaitFor []uint64
}

// RawQueue is a backend submission channel. Submissions complete in order.
type RawQueue interface {
	// Submit enqueues a batch and returns a backend submission index.
	// Indices increase strictly with every accepted batch.
	Submit(batch SubmitBatch) (uint64, error)

	// Completed returns the highest backend index known to be complete.
	// It returns an error wrapping ErrDeviceLost once the device is gone.
	Completed() (uint64, error)

	// Wait blocks until index completes, ctx is done, or the device is lost.
	Wait(ctx context.Context, index uint64) error
}

// BufferBarrier is a usage transition for a buffer.
type BufferBarrier struct {
	Buffer RawBuffer
	From   gputypes.BufferUsage
	To     gputypes.BufferUsage
}

// TextureBarrier is a usage transition for a range of texture subresources.
type TextureBarrier struct {
	Texture        RawTexture
	BaseMipLevel   uint32
	MipLevelCount  uint32
	BaseArrayLayer uint32
	LayerCount     uint32
	From           gputypes.TextureUsage
	To             gputypes.TextureUsage
}

// BufferCopy is one buffer-to-buffer copy region.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// RawColorAttachment is a resolved color attachment.
type RawColorAttachment struct {
	View          RawTextureView
	ResolveTarget RawTextureView
	LoadOp        gputypes.LoadOp
	StoreOp       gputypes.StoreOp
	ClearValue    gputypes.Color
}

// RawDepthStencilAttachment is a resolved depth/stencil attachment.
type RawDepthStencilAttachment struct {
	View              RawTextureView
	DepthLoadOp       gputypes.LoadOp
	DepthStoreOp      gputypes.StoreOp
	DepthClearValue   float32
	DepthReadOnly     bool
	StencilLoadOp     gputypes.LoadOp
	StencilStoreOp    gputypes.StoreOp
	StencilClearValue uint32
	StencilReadOnly   bool
}

// RawRenderPass is a validated render pass handed to a backend.
type RawRenderPass struct {
	Label            string
	Extent           gputypes.Extent3D
	SampleCount      uint32
	ColorAttachments []RawColorAttachment
	DepthStencil     *RawDepthStencilAttachment
}

// RawCommandEncoder records backend commands.
type RawCommandEncoder interface {
	BeginEncoding(label string) error
	EndEncoding() (RawCommandBuffer, error)
	DiscardEncoding()

	TransitionBuffers(barriers []BufferBarrier)
	TransitionTextures(barriers []TextureBarrier)

	ClearBuffer(buf RawBuffer, offset, size uint64)
	CopyBufferToBuffer(src, dst RawBuffer, region BufferCopy)

	BeginRenderPass(desc *RawRenderPass) RawRenderPassEncoder
}

// RawRenderPassEncoder records commands inside a render pass.
type RawRenderPassEncoder interface {
	SetViewport(x, y, width, height, minDepth, maxDepth float32)
	SetScissorRect(x, y, width, height uint32)
	SetVertexBuffer(slot uint32, buf RawBuffer, offset uint64)
	SetIndexBuffer(buf RawBuffer, format gputypes.IndexFormat, offset uint64)
	End()
}
