// Package soft implements a halcore backend that executes command
// buffers on the CPU.
//
// It is the reference backend for tests and headless tooling: buffer and
// texture memory is allocated lazily on first write, submissions execute
// synchronously unless held, and a memory budget turns oversubscription
// into halcore.ErrOutOfMemory. The API also adopts caller-owned GL
// contexts, see API.Adopt.
//
// Importing the package registers the backend under the name "soft".
package soft

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore"
)

// Name is the registry name of the backend.
const Name = "soft"

// DefaultMemoryBudget is the default number of bytes an adapter may
// reserve across all of its live buffers and textures.
const DefaultMemoryBudget = 8 << 30

var errBackend = errors.New("soft: backend error")

func init() {
	halcore.RegisterApi(Name, func() halcore.Api { return New() })
}

type config struct {
	budget   uint64
	limits   gputypes.Limits
	features gputypes.Features
	info     gputypes.AdapterInfo
	adapters int
}

// Option configures the software backend.
type Option func(*config)

// WithMemoryBudget sets the number of bytes each adapter may reserve.
func WithMemoryBudget(bytes uint64) Option {
	return func(c *config) { c.budget = bytes }
}

// WithLimits overrides the limits the adapters report.
func WithLimits(l gputypes.Limits) Option {
	return func(c *config) { c.limits = l }
}

// WithFeatures sets the optional features the adapters report.
func WithFeatures(f gputypes.Features) Option {
	return func(c *config) { c.features = f }
}

// WithAdapterInfo overrides the adapter metadata. Tests use it to
// impersonate hardware, for example a Vulkan adapter with given vendor
// and device identifiers.
func WithAdapterInfo(info gputypes.AdapterInfo) Option {
	return func(c *config) { c.info = info }
}

// WithAdapterCount sets how many adapters Probe reports.
func WithAdapterCount(n int) Option {
	return func(c *config) { c.adapters = n }
}

// API is the software backend family.
//
// Besides halcore.Api it offers controls for tests: Hold and Release
// delay execution, LoseDevice and FailNextSubmit inject faults.
type API struct {
	cfg    config
	logger atomic.Pointer[slog.Logger]

	mu       sync.Mutex
	devices  []*device
	held     bool
	failNext error

	submissions     atomic.Uint64
	bufferBarriers  atomic.Uint64
	textureBarriers atomic.Uint64
	clears          atomic.Uint64
	copies          atomic.Uint64
	renderPasses    atomic.Uint64
}

var _ halcore.ExternalApi = (*API)(nil)

// New returns a software backend.
func New(opts ...Option) *API {
	cfg := config{
		budget:   DefaultMemoryBudget,
		limits:   gputypes.DefaultLimits(),
		adapters: 1,
		info: gputypes.AdapterInfo{
			Name:       "halcore software rasterizer",
			Vendor:     "GoGPU",
			DeviceType: gputypes.DeviceTypeCPU,
			Driver:     "soft",
			Backend:    gputypes.BackendEmpty,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	a := &API{cfg: cfg}
	a.logger.Store(slog.New(slog.DiscardHandler))
	return a
}

// Name returns "soft".
func (a *API) Name() string { return Name }

// Backend reports the backend family of the adapters.
func (a *API) Backend() gputypes.Backend { return a.cfg.info.Backend }

// SetLogger sets the logger used by the backend.
func (a *API) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	a.logger.Store(l)
}

func (a *API) log() *slog.Logger { return a.logger.Load() }

// Probe reports the configured number of adapters.
func (a *API) Probe() ([]halcore.ExposedAdapter, error) {
	out := make([]halcore.ExposedAdapter, 0, a.cfg.adapters)
	for i := range a.cfg.adapters {
		info := a.cfg.info
		if a.cfg.adapters > 1 {
			info.Name = fmt.Sprintf("%s #%d", info.Name, i)
		}
		out = append(out, halcore.ExposedAdapter{
			Adapter:  &adapter{api: a, info: info, budget: a.cfg.budget},
			Info:     info,
			Features: a.cfg.features,
			Limits:   a.cfg.limits,
		})
	}
	return out, nil
}

// Hold makes submissions queue up instead of executing.
func (a *API) Hold() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.held = true
}

// Release executes every held submission and resumes immediate execution.
func (a *API) Release() {
	a.mu.Lock()
	a.held = false
	devices := append([]*device(nil), a.devices...)
	a.mu.Unlock()

	for _, d := range devices {
		d.queue.flush()
	}
}

func (a *API) holding() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.held
}

// LoseDevice marks every device opened from the API as lost.
func (a *API) LoseDevice() {
	a.mu.Lock()
	devices := append([]*device(nil), a.devices...)
	a.mu.Unlock()
	for _, d := range devices {
		d.lose()
	}
}

// FailNextSubmit makes the next submission on any device fail with err.
func (a *API) FailNextSubmit(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNext = err
}

func (a *API) takeFailure() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.failNext
	a.failNext = nil
	return err
}

func (a *API) track(d *device) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.devices = append(a.devices, d)
}

func (a *API) untrack(d *device) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, x := range a.devices {
		if x == d {
			a.devices = append(a.devices[:i], a.devices[i+1:]...)
			return
		}
	}
}

// Stats counts work executed by the backend.
type Stats struct {
	Submissions     uint64
	BufferBarriers  uint64
	TextureBarriers uint64
	Clears          uint64
	Copies          uint64
	RenderPasses    uint64
	LiveBuffers     int
	LiveTextures    int
	ReservedBytes   uint64
}

// Stats returns execution counters and live resource counts.
func (a *API) Stats() Stats {
	s := Stats{
		Submissions:     a.submissions.Load(),
		BufferBarriers:  a.bufferBarriers.Load(),
		TextureBarriers: a.textureBarriers.Load(),
		Clears:          a.clears.Load(),
		Copies:          a.copies.Load(),
		RenderPasses:    a.renderPasses.Load(),
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range a.devices {
		b, t := d.live()
		s.LiveBuffers += b
		s.LiveTextures += t
		s.ReservedBytes += d.adapter.used.Load()
	}
	return s
}

// ReadTexture returns a copy of one subresource of the live texture with
// the given label, or nil when no such texture has contents.
func (a *API) ReadTexture(label string, mip, layer uint32) []byte {
	a.mu.Lock()
	devices := append([]*device(nil), a.devices...)
	a.mu.Unlock()
	for _, d := range devices {
		if t := d.findTexture(label); t != nil {
			return t.read(mip, layer)
		}
	}
	return nil
}

// adapter is one software adapter. Memory is reserved per adapter.
type adapter struct {
	api      *API
	info     gputypes.AdapterInfo
	budget   uint64
	used     atomic.Uint64
	external *externalContext
}

func (ad *adapter) Open(features gputypes.Features, limits gputypes.Limits) (halcore.RawDevice, halcore.RawQueue, error) {
	d := newDevice(ad, features, limits)
	ad.api.track(d)
	ad.api.log().Debug("soft: device opened", "adapter", ad.info.Name)
	return d, d.queue, nil
}

// reserve takes n bytes from the budget.
func (ad *adapter) reserve(n uint64) error {
	for {
		cur := ad.used.Load()
		if n > ad.budget || cur > ad.budget-n {
			return fmt.Errorf("%w: %d bytes requested, %d of %d reserved", halcore.ErrOutOfMemory, n, cur, ad.budget)
		}
		if ad.used.CompareAndSwap(cur, cur+n) {
			return nil
		}
	}
}

func (ad *adapter) unreserve(n uint64) { ad.used.Add(^(n - 1)) }
