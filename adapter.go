package halcore

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// Adapter is one discovered backend/device pairing, before it is opened.
//
// Adapter capabilities are immutable. An Adapter produces at most one live
// Device at a time; once that Device is destroyed the Adapter can be
// opened again.
type Adapter struct {
	api      Api
	raw      RawAdapter
	info     gputypes.AdapterInfo
	features gputypes.Features
	limits   gputypes.Limits
	external bool

	mu   sync.Mutex
	open *Device
}

func newAdapter(api Api, e ExposedAdapter, external bool) *Adapter {
	return &Adapter{
		api:      api,
		raw:      e.Adapter,
		info:     e.Info,
		features: e.Features,
		limits:   e.Limits,
		external: external,
	}
}

// Api returns the backend family that produced the adapter.
func (a *Adapter) Api() Api { return a.api }

// Info returns adapter metadata.
func (a *Adapter) Info() gputypes.AdapterInfo { return a.info }

// Features returns the optional features the adapter supports.
func (a *Adapter) Features() gputypes.Features { return a.features }

// Limits returns the best limits the adapter supports.
func (a *Adapter) Limits() gputypes.Limits { return a.limits }

// External reports whether the adapter adopted a caller-owned context.
func (a *Adapter) External() bool { return a.external }

// PipelineCacheKey returns the pipeline-cache key for this adapter.
// See the package-level PipelineCacheKey.
func (a *Adapter) PipelineCacheKey() (string, bool) { return PipelineCacheKey(a.info) }

// ContextInfo returns the adapter as gpucontext sees it.
func (a *Adapter) ContextInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: a.info.Name, Type: adapterType(a.info.DeviceType)}
}

func adapterType(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}

// Open opens a logical device and its queue.
//
// Requesting features the adapter lacks, or limits beyond what it reports,
// fails with ErrUnsupportedFeature. A zero Limits value requests the
// adapter's own limits. A backend that refuses to create the device
// produces ErrDeviceLost.
func (a *Adapter) Open(features gputypes.Features, limits gputypes.Limits) (*Device, error) {
	if !a.features.ContainsAll(features) {
		missing := features &^ a.features
		return nil, fmt.Errorf("%w: features %#x not supported by %q", ErrUnsupportedFeature, uint64(missing), a.info.Name)
	}
	if limits == (gputypes.Limits{}) {
		limits = a.limits
	}
	if err := checkLimits(limits, a.limits); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFeature, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open != nil {
		return nil, fmt.Errorf("%w: adapter %q already has an open device", ErrInvalidState, a.info.Name)
	}

	rawDev, rawQueue, err := a.raw.Open(features, limits)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %w", ErrDeviceLost, a.info.Name, err)
	}

	d := newDevice(a, rawDev, rawQueue, features, limits)
	a.open = d

	Logger().Info("halcore: device opened",
		"adapter", a.info.Name,
		"backend", a.info.Backend.String(),
		"external", a.external)
	return d, nil
}

// release is called by Device.Destroy.
func (a *Adapter) release(d *Device) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open == d {
		a.open = nil
	}
}

// checkLimits verifies that requested does not exceed supported.
// Maximum-style limits must not be larger; alignment-style limits must
// not be smaller.
func checkLimits(requested, supported gputypes.Limits) error {
	maxima := []struct {
		name     string
		req, sup uint64
	}{
		{"MaxTextureDimension1D", uint64(requested.MaxTextureDimension1D), uint64(supported.MaxTextureDimension1D)},
		{"MaxTextureDimension2D", uint64(requested.MaxTextureDimension2D), uint64(supported.MaxTextureDimension2D)},
		{"MaxTextureDimension3D", uint64(requested.MaxTextureDimension3D), uint64(supported.MaxTextureDimension3D)},
		{"MaxTextureArrayLayers", uint64(requested.MaxTextureArrayLayers), uint64(supported.MaxTextureArrayLayers)},
		{"MaxBindGroups", uint64(requested.MaxBindGroups), uint64(supported.MaxBindGroups)},
		{"MaxUniformBufferBindingSize", requested.MaxUniformBufferBindingSize, supported.MaxUniformBufferBindingSize},
		{"MaxStorageBufferBindingSize", requested.MaxStorageBufferBindingSize, supported.MaxStorageBufferBindingSize},
		{"MaxVertexBuffers", uint64(requested.MaxVertexBuffers), uint64(supported.MaxVertexBuffers)},
		{"MaxBufferSize", requested.MaxBufferSize, supported.MaxBufferSize},
		{"MaxVertexAttributes", uint64(requested.MaxVertexAttributes), uint64(supported.MaxVertexAttributes)},
		{"MaxColorAttachments", uint64(requested.MaxColorAttachments), uint64(supported.MaxColorAttachments)},
		{"MaxComputeInvocationsPerWorkgroup", uint64(requested.MaxComputeInvocationsPerWorkgroup), uint64(supported.MaxComputeInvocationsPerWorkgroup)},
		{"MaxPushConstantSize", uint64(requested.MaxPushConstantSize), uint64(supported.MaxPushConstantSize)},
	}
	for _, m := range maxima {
		if m.req > m.sup {
			return fmt.Errorf("limit %s: requested %d, adapter supports %d", m.name, m.req, m.sup)
		}
	}

	alignments := []struct {
		name     string
		req, sup uint32
	}{
		{"MinUniformBufferOffsetAlignment", requested.MinUniformBufferOffsetAlignment, supported.MinUniformBufferOffsetAlignment},
		{"MinStorageBufferOffsetAlignment", requested.MinStorageBufferOffsetAlignment, supported.MinStorageBufferOffsetAlignment},
	}
	for _, m := range alignments {
		if m.req < m.sup {
			return fmt.Errorf("limit %s: requested %d, adapter requires at least %d", m.name, m.req, m.sup)
		}
	}
	return nil
}

// PipelineCacheKey derives a stable, filesystem-safe key for a store of
// previously compiled pipelines.
//
// Only Vulkan exposes a pipeline cache blob whose validity is tied to the
// vendor and device identifiers; every other backend reports ("", false).
func PipelineCacheKey(info gputypes.AdapterInfo) (string, bool) {
	if info.Backend != gputypes.BackendVulkan {
		return "", false
	}
	return fmt.Sprintf("halcore_pipeline_cache_vulkan_%d_%d", info.VendorID, info.DeviceID), true
}
