package halcore

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// deviceProvider exposes a Device to code written against gpucontext.
type deviceProvider struct {
	d      *Device
	format gputypes.TextureFormat
}

var _ gpucontext.DeviceProvider = deviceProvider{}

// Provider returns a gpucontext.DeviceProvider backed by the device.
// The provider reports surfaceFormat as its preferred surface format;
// pass gputypes.TextureFormatUndefined for headless use.
func (d *Device) Provider(surfaceFormat gputypes.TextureFormat) gpucontext.DeviceProvider {
	return deviceProvider{d: d, format: surfaceFormat}
}

func (p deviceProvider) Device() gpucontext.Device { return p.d }

func (p deviceProvider) Queue() gpucontext.Queue { return p.d.queue }

func (p deviceProvider) SurfaceFormat() gputypes.TextureFormat { return p.format }

func (p deviceProvider) Adapter() gpucontext.Adapter { return p.d.adapter }

func (p deviceProvider) AdapterInfo() gpucontext.AdapterInfo { return p.d.adapter.ContextInfo() }
