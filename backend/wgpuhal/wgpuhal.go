// Package wgpuhal drives hardware through the gogpu/wgpu HAL backends.
//
// Each HAL backend variant (Vulkan, Metal, DX12, GLES, empty) is exposed
// as one halcore.Api. The HAL backends themselves are registered by
// importing them, typically through github.com/gogpu/wgpu/hal/allbackends;
// a family whose HAL backend is not linked in fails to probe and is
// skipped by halcore.Enumerate.
package wgpuhal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/halcore"
)

// Families maps halcore registry names to HAL backend variants.
var Families = map[string]gputypes.Backend{
	"vulkan": gputypes.BackendVulkan,
	"metal":  gputypes.BackendMetal,
	"dx12":   gputypes.BackendDX12,
	"gles":   gputypes.BackendGL,
	"empty":  gputypes.BackendEmpty,
}

func init() {
	for name, variant := range Families {
		halcore.RegisterApi(name, func() halcore.Api { return New(name, variant) })
	}
}

// API is one HAL backend family.
type API struct {
	name    string
	variant gputypes.Backend
	desc    hal.InstanceDescriptor
	backend hal.Backend
	logger  atomic.Pointer[slog.Logger]

	mu        sync.Mutex
	instances []hal.Instance
}

// Option configures an API.
type Option func(*API)

// WithBackend drives b directly instead of looking the variant up in the
// HAL registry.
func WithBackend(b hal.Backend) Option {
	return func(a *API) { a.backend = b }
}

// WithGLBackend selects desktop GL or GLES for the GL family.
func WithGLBackend(gl gputypes.GLBackend) Option {
	return func(a *API) { a.desc.GLBackend = gl }
}

// WithInstanceFlags sets HAL instance flags such as validation.
func WithInstanceFlags(flags gputypes.InstanceFlags) Option {
	return func(a *API) { a.desc.Flags = flags }
}

// New returns the family name driving HAL variant.
func New(name string, variant gputypes.Backend, opts ...Option) *API {
	a := &API{
		name:    name,
		variant: variant,
		desc:    hal.InstanceDescriptor{Backends: gputypes.BackendsAll},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger.Store(slog.New(slog.DiscardHandler))
	return a
}

// Name returns the registry name.
func (a *API) Name() string { return a.name }

// Backend returns the HAL variant.
func (a *API) Backend() gputypes.Backend { return a.variant }

// SetLogger sets the backend logger and forwards it to the HAL.
func (a *API) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	a.logger.Store(l)
	hal.SetLogger(l)
}

// Probe creates a HAL instance and lists its adapters. The instance stays
// alive until Close so that adapters can be reopened.
func (a *API) Probe() ([]halcore.ExposedAdapter, error) {
	b := a.backend
	if b == nil {
		var ok bool
		if b, ok = hal.GetBackend(a.variant); !ok {
			return nil, fmt.Errorf("%s: %w", a.name, hal.ErrBackendNotFound)
		}
	}
	inst, err := b.CreateInstance(&a.desc)
	if err != nil {
		return nil, fmt.Errorf("%s: create instance: %w", a.name, convertErr(err))
	}

	exposed := inst.EnumerateAdapters(nil)
	if len(exposed) == 0 {
		inst.Destroy()
		return nil, nil
	}
	a.mu.Lock()
	a.instances = append(a.instances, inst)
	a.mu.Unlock()

	out := make([]halcore.ExposedAdapter, 0, len(exposed))
	for _, e := range exposed {
		out = append(out, halcore.ExposedAdapter{
			Adapter:  &adapter{api: a, raw: e.Adapter, info: e.Info},
			Info:     e.Info,
			Features: e.Features,
			Limits:   e.Capabilities.Limits,
		})
	}
	a.logger.Load().Debug("wgpuhal: probed", "backend", a.name, "adapters", len(out))
	return out, nil
}

// Close destroys every HAL instance created by Probe. Devices opened from
// those instances must be destroyed first.
func (a *API) Close() {
	a.mu.Lock()
	insts := a.instances
	a.instances = nil
	a.mu.Unlock()
	for _, inst := range insts {
		inst.Destroy()
	}
}

type adapter struct {
	api  *API
	raw  hal.Adapter
	info gputypes.AdapterInfo
}

func (ad *adapter) Open(features gputypes.Features, limits gputypes.Limits) (halcore.RawDevice, halcore.RawQueue, error) {
	od, err := ad.raw.Open(features, limits)
	if err != nil {
		return nil, nil, convertErr(err)
	}
	d := &device{adapter: ad, raw: od.Device}
	q := &queue{device: d, raw: od.Queue}
	return d, q, nil
}

// convertErr maps HAL errors onto halcore sentinels, keeping the HAL
// error in the chain.
func convertErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hal.ErrDeviceLost):
		return fmt.Errorf("%w: %w", halcore.ErrDeviceLost, err)
	case errors.Is(err, hal.ErrDeviceOutOfMemory):
		return fmt.Errorf("%w: %w", halcore.ErrOutOfMemory, err)
	case errors.Is(err, hal.ErrInvalidMapRange):
		return fmt.Errorf("%w: %w", halcore.ErrInvalidUsage, err)
	default:
		return err
	}
}
