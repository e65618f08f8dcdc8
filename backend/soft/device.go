package soft

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore"
)

type device struct {
	adapter  *adapter
	features gputypes.Features
	limits   gputypes.Limits
	queue    *queue

	// execMu serializes command execution.
	execMu sync.Mutex

	mu       sync.Mutex
	buffers  map[*buffer]struct{}
	textures map[*texture]struct{}

	lost      atomic.Bool
	destroyed atomic.Bool
}

func newDevice(ad *adapter, features gputypes.Features, limits gputypes.Limits) *device {
	d := &device{
		adapter:  ad,
		features: features,
		limits:   limits,
		buffers:  make(map[*buffer]struct{}),
		textures: make(map[*texture]struct{}),
	}
	d.queue = newQueue(d)
	return d
}

func (d *device) lose() {
	if d.lost.CompareAndSwap(false, true) {
		d.adapter.api.log().Warn("soft: device lost", "adapter", d.adapter.info.Name)
		d.queue.broadcast()
	}
}

func (d *device) errLost() error {
	return fmt.Errorf("%w: soft device %q", halcore.ErrDeviceLost, d.adapter.info.Name)
}

func (d *device) live() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers), len(d.textures)
}

func (d *device) findTexture(label string) *texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	for t := range d.textures {
		if t.desc.Label == label {
			return t
		}
	}
	return nil
}

type buffer struct {
	label string
	size  uint64

	mu   sync.Mutex
	data []byte
}

// peek returns the backing memory, or nil if it was never written.
func (b *buffer) peek() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// bytes returns the backing memory, allocating it on first use.
func (b *buffer) bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		b.data = make([]byte, b.size)
	}
	return b.data
}

func (d *device) CreateBuffer(desc *gputypes.BufferDescriptor) (halcore.RawBuffer, error) {
	if d.lost.Load() {
		return nil, d.errLost()
	}
	if err := d.adapter.reserve(desc.Size); err != nil {
		return nil, err
	}
	b := &buffer{label: desc.Label, size: desc.Size}
	d.mu.Lock()
	d.buffers[b] = struct{}{}
	d.mu.Unlock()
	return b, nil
}

func (d *device) DestroyBuffer(raw halcore.RawBuffer) {
	b, ok := raw.(*buffer)
	if !ok {
		return
	}
	d.mu.Lock()
	_, live := d.buffers[b]
	delete(d.buffers, b)
	d.mu.Unlock()
	if live {
		d.adapter.unreserve(b.size)
	}
}

func (d *device) MapBuffer(raw halcore.RawBuffer, offset, size uint64) ([]byte, error) {
	if d.lost.Load() {
		return nil, d.errLost()
	}
	b, ok := raw.(*buffer)
	if !ok {
		return nil, fmt.Errorf("%w: foreign buffer %T", errBackend, raw)
	}
	if offset > b.size || size > b.size-offset {
		return nil, fmt.Errorf("%w: map range [%d, %d) of %d-byte buffer", errBackend, offset, offset+size, b.size)
	}
	data := b.bytes()
	return data[offset : offset+size : offset+size], nil
}

func (d *device) UnmapBuffer(raw halcore.RawBuffer) error {
	if d.lost.Load() {
		return d.errLost()
	}
	return nil
}

type subresource struct{ mip, layer uint32 }

type texture struct {
	desc  gputypes.TextureDescriptor
	texel int
	bytes uint64

	mu   sync.Mutex
	subs map[subresource][]byte
}

func (t *texture) extent(mip uint32) (w, h, depth uint32) {
	s := t.desc.Size
	w = max(s.Width>>mip, 1)
	h = max(s.Height>>mip, 1)
	depth = 1
	if t.desc.Dimension == gputypes.TextureDimension3D {
		depth = max(s.DepthOrArrayLayers>>mip, 1)
	}
	return w, h, depth
}

// sub returns the memory of one subresource, allocating it on first use.
// It returns nil for formats without a texel layout.
func (t *texture) sub(mip, layer uint32) []byte {
	if t.texel == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	k := subresource{mip, layer}
	data, ok := t.subs[k]
	if !ok {
		w, h, depth := t.extent(mip)
		data = make([]byte, int(w)*int(h)*int(depth)*t.texel)
		t.subs[k] = data
	}
	return data
}

func (t *texture) read(mip, layer uint32) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.subs[subresource{mip, layer}])
}

// textureBytes is the size of the full mip chain across all layers.
func textureBytes(desc *gputypes.TextureDescriptor) uint64 {
	texel := uint64(TexelBytes(desc.Format))
	if texel == 0 {
		texel = 4
	}
	layers := uint64(desc.Size.DepthOrArrayLayers)
	var total uint64
	for mip := range desc.MipLevelCount {
		w := uint64(max(desc.Size.Width>>mip, 1))
		h := uint64(max(desc.Size.Height>>mip, 1))
		n := layers
		if desc.Dimension == gputypes.TextureDimension3D {
			n = uint64(max(desc.Size.DepthOrArrayLayers>>mip, 1))
		}
		total += w * h * n * texel
	}
	return total * uint64(max(desc.SampleCount, 1))
}

func (d *device) CreateTexture(desc *gputypes.TextureDescriptor) (halcore.RawTexture, error) {
	if d.lost.Load() {
		return nil, d.errLost()
	}
	n := textureBytes(desc)
	if err := d.adapter.reserve(n); err != nil {
		return nil, err
	}
	t := &texture{
		desc:  *desc,
		texel: TexelBytes(desc.Format),
		bytes: n,
		subs:  make(map[subresource][]byte),
	}
	d.mu.Lock()
	d.textures[t] = struct{}{}
	d.mu.Unlock()
	return t, nil
}

func (d *device) DestroyTexture(raw halcore.RawTexture) {
	t, ok := raw.(*texture)
	if !ok {
		return
	}
	d.mu.Lock()
	_, live := d.textures[t]
	delete(d.textures, t)
	d.mu.Unlock()
	if live {
		d.adapter.unreserve(t.bytes)
	}
}

type view struct {
	tex  *texture
	desc halcore.TextureViewDescriptor
}

func (d *device) CreateTextureView(raw halcore.RawTexture, desc *halcore.TextureViewDescriptor) (halcore.RawTextureView, error) {
	if d.lost.Load() {
		return nil, d.errLost()
	}
	t, ok := raw.(*texture)
	if !ok {
		return nil, fmt.Errorf("%w: foreign texture %T", errBackend, raw)
	}
	return &view{tex: t, desc: *desc}, nil
}

func (d *device) DestroyTextureView(halcore.RawTextureView) {}

type shaderModule struct {
	label string
	words []uint32
}

func (d *device) CreateShaderModule(label string, words []uint32) (halcore.RawShaderModule, error) {
	if d.lost.Load() {
		return nil, d.errLost()
	}
	return &shaderModule{label: label, words: slices.Clone(words)}, nil
}

func (d *device) DestroyShaderModule(halcore.RawShaderModule) {}

func (d *device) CreateCommandEncoder(label string) (halcore.RawCommandEncoder, error) {
	if d.lost.Load() {
		return nil, d.errLost()
	}
	return &encoder{dev: d, label: label}, nil
}

func (d *device) FreeCommandBuffer(halcore.RawCommandBuffer) {}

func (d *device) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	d.mu.Lock()
	var reserved uint64
	for b := range d.buffers {
		reserved += b.size
	}
	for t := range d.textures {
		reserved += t.bytes
	}
	clear(d.buffers)
	clear(d.textures)
	d.mu.Unlock()

	d.adapter.unreserve(reserved)
	d.adapter.api.untrack(d)
	d.queue.broadcast()
}
