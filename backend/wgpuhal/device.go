package wgpuhal

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/halcore"
)

type device struct {
	adapter *adapter
	raw     hal.Device

	lost      atomic.Bool
	destroyed atomic.Bool
}

// check converts err and latches device loss.
func (d *device) check(err error) error {
	err = convertErr(err)
	if errors.Is(err, halcore.ErrDeviceLost) && d.lost.CompareAndSwap(false, true) {
		d.adapter.api.logger.Load().Warn("wgpuhal: device lost", "adapter", d.adapter.info.Name, "err", err)
	}
	return err
}

func (d *device) errLost() error {
	return fmt.Errorf("%w: %s adapter %q", halcore.ErrDeviceLost, d.adapter.api.name, d.adapter.info.Name)
}

func (d *device) CreateBuffer(desc *gputypes.BufferDescriptor) (halcore.RawBuffer, error) {
	if d.lost.Load() {
		return nil, d.errLost()
	}
	buf, err := d.raw.CreateBuffer(&hal.BufferDescriptor{
		Label:            desc.Label,
		Size:             desc.Size,
		Usage:            desc.Usage,
		MappedAtCreation: desc.MappedAtCreation,
	})
	if err != nil {
		return nil, d.check(err)
	}
	return buf, nil
}

func (d *device) DestroyBuffer(raw halcore.RawBuffer) {
	if buf, ok := raw.(hal.Buffer); ok {
		d.raw.DestroyBuffer(buf)
	}
}

func (d *device) MapBuffer(raw halcore.RawBuffer, offset, size uint64) ([]byte, error) {
	if d.lost.Load() {
		return nil, d.errLost()
	}
	buf, ok := raw.(hal.Buffer)
	if !ok {
		return nil, fmt.Errorf("wgpuhal: foreign buffer %T", raw)
	}
	if size == 0 {
		return []byte{}, nil
	}
	m, err := d.raw.MapBuffer(buf, offset, size)
	if err != nil {
		return nil, d.check(err)
	}
	return unsafe.Slice((*byte)(m.Ptr), size), nil
}

func (d *device) UnmapBuffer(raw halcore.RawBuffer) error {
	buf, ok := raw.(hal.Buffer)
	if !ok {
		return fmt.Errorf("wgpuhal: foreign buffer %T", raw)
	}
	return d.check(d.raw.UnmapBuffer(buf))
}

func (d *device) CreateTexture(desc *gputypes.TextureDescriptor) (halcore.RawTexture, error) {
	if d.lost.Load() {
		return nil, d.errLost()
	}
	tex, err := d.raw.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              desc.Size.Width,
			Height:             desc.Size.Height,
			DepthOrArrayLayers: desc.Size.DepthOrArrayLayers,
		},
		MipLevelCount: desc.MipLevelCount,
		SampleCount:   desc.SampleCount,
		Dimension:     desc.Dimension,
		Format:        desc.Format,
		Usage:         desc.Usage,
		ViewFormats:   desc.ViewFormats,
	})
	if err != nil {
		return nil, d.check(err)
	}
	return tex, nil
}

func (d *device) DestroyTexture(raw halcore.RawTexture) {
	if tex, ok := raw.(hal.Texture); ok {
		d.raw.DestroyTexture(tex)
	}
}

func (d *device) CreateTextureView(raw halcore.RawTexture, desc *halcore.TextureViewDescriptor) (halcore.RawTextureView, error) {
	if d.lost.Load() {
		return nil, d.errLost()
	}
	tex, ok := raw.(hal.Texture)
	if !ok {
		return nil, fmt.Errorf("wgpuhal: foreign texture %T", raw)
	}
	v, err := d.raw.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:           desc.Label,
		Format:          desc.Format,
		Dimension:       desc.Dimension,
		Aspect:          desc.Aspect,
		BaseMipLevel:    desc.BaseMipLevel,
		MipLevelCount:   desc.MipLevelCount,
		BaseArrayLayer:  desc.BaseArrayLayer,
		ArrayLayerCount: desc.ArrayLayerCount,
	})
	if err != nil {
		return nil, d.check(err)
	}
	return v, nil
}

func (d *device) DestroyTextureView(raw halcore.RawTextureView) {
	if v, ok := raw.(hal.TextureView); ok {
		d.raw.DestroyTextureView(v)
	}
}

func (d *device) CreateShaderModule(label string, words []uint32) (halcore.RawShaderModule, error) {
	if d.lost.Load() {
		return nil, d.errLost()
	}
	m, err := d.raw.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return nil, d.check(err)
	}
	return m, nil
}

func (d *device) DestroyShaderModule(raw halcore.RawShaderModule) {
	if m, ok := raw.(hal.ShaderModule); ok {
		d.raw.DestroyShaderModule(m)
	}
}

func (d *device) CreateCommandEncoder(label string) (halcore.RawCommandEncoder, error) {
	if d.lost.Load() {
		return nil, d.errLost()
	}
	enc, err := d.raw.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, d.check(err)
	}
	return &encoder{device: d, raw: enc}, nil
}

func (d *device) FreeCommandBuffer(raw halcore.RawCommandBuffer) {
	cb, ok := raw.(*commandBuffer)
	if !ok {
		return
	}
	d.raw.FreeCommandBuffer(cb.raw)
	cb.encoder.Destroy()
}

func (d *device) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	if !d.lost.Load() {
		if err := d.raw.WaitIdle(); err != nil {
			d.adapter.api.logger.Load().Warn("wgpuhal: wait idle on destroy", "err", err)
		}
	}
	d.raw.Destroy()
}
