package halcore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore/internal/arena"
	"github.com/gogpu/halcore/internal/track"
)

// PollMode selects whether Device.Poll may block.
type PollMode uint8

const (
	// PollPoll checks for completed work and returns immediately.
	PollPoll PollMode = iota

	// PollWait blocks until at least one outstanding submission completes,
	// or returns at once when nothing is outstanding.
	PollWait
)

// String returns the poll mode name.
func (m PollMode) String() string {
	switch m {
	case PollPoll:
		return "Poll"
	case PollWait:
		return "Wait"
	default:
		return fmt.Sprintf("PollMode(%d)", uint8(m))
	}
}

// deferredDestroy is a backend release waiting for a submission to retire.
type deferredDestroy struct {
	after uint64
	key   track.Key
	run   func()
}

// Device is an open logical device. All resources are created through it
// and are destroyed no later than the device itself.
//
// Device is safe for concurrent use. Resource creation is lock-free on
// the device; only the per-kind arenas take a short shard lock.
type Device struct {
	adapter  *Adapter
	raw      RawDevice
	queue    *Queue
	features gputypes.Features
	limits   gputypes.Limits

	buffers  *arena.Arena[*Buffer]
	textures *arena.Arena[*Texture]
	views    *arena.Arena[*TextureView]
	shaders  *arena.Arena[*ShaderModule]
	fences   *arena.Arena[*Fence]
	encoders atomic.Int64

	state *track.State

	// pollMu serializes Poll and Destroy so map callbacks fire in order
	// on one goroutine at a time.
	pollMu sync.Mutex

	mu        sync.Mutex
	maps      []*MapRequest
	deferred  []deferredDestroy
	lostErr   error
	destroyed bool
}

func newDevice(a *Adapter, raw RawDevice, rawQueue RawQueue, features gputypes.Features, limits gputypes.Limits) *Device {
	d := &Device{
		adapter:  a,
		raw:      raw,
		features: features,
		limits:   limits,
		buffers:  arena.New[*Buffer](),
		textures: arena.New[*Texture](),
		views:    arena.New[*TextureView](),
		shaders:  arena.New[*ShaderModule](),
		fences:   arena.New[*Fence](),
		state:    track.NewState(),
	}
	d.queue = newQueue(d, rawQueue)
	return d
}

// Adapter returns the adapter the device was opened from.
func (d *Device) Adapter() *Adapter { return d.adapter }

// Queue returns the device's queue.
func (d *Device) Queue() *Queue { return d.queue }

// Features returns the features enabled on the device.
func (d *Device) Features() gputypes.Features { return d.features }

// Limits returns the limits the device was opened with.
func (d *Device) Limits() gputypes.Limits { return d.limits }

// Err returns the device-lost error, or nil while the device is usable.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lostErr
}

// check fails once the device is destroyed or lost.
func (d *Device) check() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return fmt.Errorf("%w: device destroyed", ErrInvalidState)
	}
	return d.lostErr
}

// markLost makes the device unusable and fails every pending map with
// the loss. Results are delivered by the next Poll or by Destroy.
func (d *Device) markLost(cause error) {
	if !errors.Is(cause, ErrDeviceLost) {
		cause = fmt.Errorf("%w: %w", ErrDeviceLost, cause)
	}

	d.mu.Lock()
	if d.lostErr != nil {
		d.mu.Unlock()
		return
	}
	d.lostErr = cause
	pending := slices.Clone(d.maps)
	d.mu.Unlock()

	for _, r := range pending {
		r.buffer.abort(r, cause)
	}
	Logger().Error("halcore: device lost", "adapter", d.adapter.info.Name, "err", cause)
}

// noteErr marks the device lost when err reports a lost device.
func (d *Device) noteErr(err error) {
	if errors.Is(err, ErrDeviceLost) {
		d.markLost(err)
	}
}

// CreateBuffer creates a buffer.
//
// Usage must be non-empty and may combine MapRead only with CopyDst and
// MapWrite only with CopySrc. A buffer mapped at creation must have a
// size that is a multiple of 4 and starts out in the Mapped state for
// writing.
func (d *Device) CreateBuffer(desc gputypes.BufferDescriptor) (*Buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if err := validateBufferDescriptor(&desc, d.limits); err != nil {
		return nil, err
	}

	raw, err := d.raw.CreateBuffer(&desc)
	if err != nil {
		d.noteErr(err)
		return nil, fmt.Errorf("create buffer %q: %w", desc.Label, err)
	}

	b := &Buffer{
		device: d,
		raw:    raw,
		label:  desc.Label,
		size:   desc.Size,
		usage:  desc.Usage,
	}
	if desc.MappedAtCreation {
		data, err := d.raw.MapBuffer(raw, 0, desc.Size)
		if err != nil {
			d.raw.DestroyBuffer(raw)
			d.noteErr(err)
			return nil, fmt.Errorf("map buffer %q at creation: %w", desc.Label, err)
		}
		b.state = gputypes.BufferMapStateMapped
		b.mapMode = gputypes.MapModeWrite
		b.mapped = data
	}
	b.id = d.buffers.Insert(b)
	return b, nil
}

func validateBufferDescriptor(desc *gputypes.BufferDescriptor, limits gputypes.Limits) error {
	u := desc.Usage
	if u == gputypes.BufferUsageNone {
		return fmt.Errorf("%w: buffer %q has no usage", ErrInvalidUsage, desc.Label)
	}
	if u.ContainsUnknownBits() {
		return fmt.Errorf("%w: buffer %q has unknown usage bits %#x", ErrInvalidUsage, desc.Label, uint64(u))
	}
	if u.Contains(gputypes.BufferUsageMapRead) && u&^(gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst) != 0 {
		return fmt.Errorf("%w: buffer %q: MapRead combines only with CopyDst", ErrInvalidUsage, desc.Label)
	}
	if u.Contains(gputypes.BufferUsageMapWrite) && u&^(gputypes.BufferUsageMapWrite|gputypes.BufferUsageCopySrc) != 0 {
		return fmt.Errorf("%w: buffer %q: MapWrite combines only with CopySrc", ErrInvalidUsage, desc.Label)
	}
	if desc.MappedAtCreation && desc.Size%4 != 0 {
		return fmt.Errorf("%w: buffer %q mapped at creation with size %d not a multiple of 4", ErrInvalidUsage, desc.Label, desc.Size)
	}
	if desc.Size > limits.MaxBufferSize {
		return fmt.Errorf("%w: buffer %q size %d exceeds MaxBufferSize %d", ErrLimitExceeded, desc.Label, desc.Size, limits.MaxBufferSize)
	}
	return nil
}

// CreateTexture creates a texture. Zero MipLevelCount, SampleCount and
// DepthOrArrayLayers default to 1; an undefined dimension means 2D.
func (d *Device) CreateTexture(desc gputypes.TextureDescriptor) (*Texture, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if err := validateTextureDescriptor(&desc, d.limits); err != nil {
		return nil, err
	}

	raw, err := d.raw.CreateTexture(&desc)
	if err != nil {
		d.noteErr(err)
		return nil, fmt.Errorf("create texture %q: %w", desc.Label, err)
	}
	t := &Texture{device: d, raw: raw, desc: desc}
	t.id = d.textures.Insert(t)
	return t, nil
}

// CreateShaderModule creates a shader module from a SPIR-V binary.
// The binary may be in either byte order and need not be word aligned.
func (d *Device) CreateShaderModule(label string, code []byte) (*ShaderModule, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	m, err := normalizeModule(code)
	if err != nil {
		return nil, fmt.Errorf("shader module %q: %w", label, err)
	}
	return d.createShaderModule(label, m)
}

// CreateShaderModuleWGSL compiles WGSL source to SPIR-V and creates a
// shader module from it.
func (d *Device) CreateShaderModuleWGSL(label, source string) (*ShaderModule, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	m, err := compileWGSL(source)
	if err != nil {
		return nil, fmt.Errorf("shader module %q: %w", label, err)
	}
	return d.createShaderModule(label, m)
}

// CreateCommandEncoder creates an encoder that records for q.
func (d *Device) CreateCommandEncoder(q *Queue, label string) (*CommandEncoder, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if q == nil || q.device != d {
		return nil, fmt.Errorf("%w: queue belongs to another device", ErrInvalidState)
	}
	d.encoders.Add(1)
	return &CommandEncoder{
		device:    d,
		queue:     q,
		label:     label,
		tracker:   track.NewTracker(),
		resources: make(map[track.Key]resourceRef),
	}, nil
}

// CreateFence creates a timeline fence starting at 0.
func (d *Device) CreateFence(label string) (*Fence, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	f := &Fence{device: d, label: label}
	f.id = d.fences.Insert(f)
	return f, nil
}

// Poll retires completed submissions, releases deferred destroys and
// delivers resolved buffer maps.
//
// Map callbacks run on the calling goroutine, ordered by the submission
// each map waited for. Poll reports whether any work completed or any
// map was delivered. On a lost device it still delivers the failed maps
// and then returns the device-lost error.
func (d *Device) Poll(ctx context.Context, mode PollMode) (bool, error) {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()

	d.mu.Lock()
	destroyed, lost := d.destroyed, d.lostErr
	d.mu.Unlock()
	if destroyed {
		return false, fmt.Errorf("%w: device destroyed", ErrInvalidState)
	}

	var progress bool
	if lost == nil {
		p, err := d.queue.poll(ctx, mode == PollWait)
		progress = p
		if err != nil {
			if !errors.Is(err, ErrDeviceLost) {
				return progress, err
			}
			d.markLost(err)
		}
	}

	completed := d.queue.completed.Load()
	if d.lost() {
		completed = math.MaxUint64
	}
	d.runDeferred(completed)
	if d.deliverMaps(completed) > 0 {
		progress = true
	}
	return progress, d.Err()
}

func (d *Device) lost() bool { return d.Err() != nil }

// retire destroys a resource now, or after the last submission that
// used it completes.
func (d *Device) retire(key track.Key, run func()) {
	last := d.state.LastSubmission(key)
	if last <= d.queue.completed.Load() || d.lost() {
		run()
		d.state.Forget(key)
		return
	}
	d.mu.Lock()
	d.deferred = append(d.deferred, deferredDestroy{after: last, key: key, run: run})
	d.mu.Unlock()
}

// runDeferred releases every deferred destroy whose submission is
// complete.
func (d *Device) runDeferred(completed uint64) {
	d.mu.Lock()
	var ready []deferredDestroy
	kept := d.deferred[:0]
	for _, dd := range d.deferred {
		if dd.after <= completed {
			ready = append(ready, dd)
		} else {
			kept = append(kept, dd)
		}
	}
	d.deferred = kept
	d.mu.Unlock()

	for _, dd := range ready {
		dd.run()
		d.state.Forget(dd.key)
	}
}

// deliverMaps resolves every pending map whose submission is complete,
// plus any that were already settled, and runs their callbacks.
func (d *Device) deliverMaps(completed uint64) int {
	d.mu.Lock()
	var ready []*MapRequest
	kept := d.maps[:0]
	for _, r := range d.maps {
		if r.settled.Load() || r.target <= completed {
			ready = append(ready, r)
		} else {
			kept = append(kept, r)
		}
	}
	clear(d.maps[len(kept):])
	d.maps = kept
	d.mu.Unlock()

	slices.SortStableFunc(ready, func(a, b *MapRequest) int {
		switch {
		case a.target < b.target:
			return -1
		case a.target > b.target:
			return 1
		}
		return 0
	})
	for _, r := range ready {
		r.buffer.resolve(r)
	}
	for _, r := range ready {
		r.deliver()
	}
	return len(ready)
}

func (d *Device) trackMap(r *MapRequest) {
	d.mu.Lock()
	d.maps = append(d.maps, r)
	d.mu.Unlock()
}

// Destroy waits for outstanding work, fails pending maps with
// ErrMapAborted, releases every remaining resource and closes the
// backend device. The adapter can be opened again afterwards.
// Destroy is idempotent.
func (d *Device) Destroy() {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	lost := d.lostErr
	pending := slices.Clone(d.maps)
	d.mu.Unlock()

	log := Logger()
	if lost == nil {
		if err := d.queue.drain(context.Background()); err != nil {
			log.Warn("halcore: device drain failed", "err", err)
		}
	}

	abortErr := ErrMapAborted
	if lost != nil {
		abortErr = lost
	}
	for _, r := range pending {
		r.buffer.abort(r, abortErr)
	}
	d.deliverMaps(math.MaxUint64)

	_, views := d.views.Snapshot()
	for _, v := range views {
		if _, ok := d.views.Remove(v.id); ok {
			d.raw.DestroyTextureView(v.raw)
		}
	}
	_, textures := d.textures.Snapshot()
	for _, t := range textures {
		if _, ok := d.textures.Remove(t.id); ok {
			d.raw.DestroyTexture(t.raw)
		}
	}
	_, buffers := d.buffers.Snapshot()
	for _, b := range buffers {
		if _, ok := d.buffers.Remove(b.id); ok {
			b.release()
		}
	}
	_, shaders := d.shaders.Snapshot()
	for _, s := range shaders {
		if _, ok := d.shaders.Remove(s.id); ok {
			d.raw.DestroyShaderModule(s.raw)
		}
	}
	_, fences := d.fences.Snapshot()
	for _, f := range fences {
		d.fences.Remove(f.id)
	}
	d.runDeferred(math.MaxUint64)
	d.queue.freeAll()

	d.raw.Destroy()
	d.adapter.release(d)
	log.Info("halcore: device destroyed", "adapter", d.adapter.info.Name)
}

// DeviceStats is a snapshot of live object counts.
type DeviceStats struct {
	Buffers       int
	Textures      int
	TextureViews  int
	ShaderModules int
	Fences        int
	Encoders      int

	PendingMaps      int
	DeferredDestroys int

	Submitted SubmissionIndex
	Completed SubmissionIndex
}

// Stats returns live object counts.
func (d *Device) Stats() DeviceStats {
	d.mu.Lock()
	maps, deferred := len(d.maps), len(d.deferred)
	d.mu.Unlock()
	return DeviceStats{
		Buffers:          d.buffers.Len(),
		Textures:         d.textures.Len(),
		TextureViews:     d.views.Len(),
		ShaderModules:    d.shaders.Len(),
		Fences:           d.fences.Len(),
		Encoders:         int(d.encoders.Load()),
		PendingMaps:      maps,
		DeferredDestroys: deferred,
		Submitted:        d.queue.Submitted(),
		Completed:        d.queue.Completed(),
	}
}
