package halcore

// InstanceOption configures adapter enumeration.
//
// Example:
//
//	// Probe every registered backend in priority order
//	adapters, err := halcore.Enumerate()
//
//	// Only consider Vulkan and the software fallback
//	adapters, err := halcore.Enumerate(halcore.WithBackends("vulkan", "soft"))
type InstanceOption func(*instanceOptions)

// instanceOptions holds optional configuration for Enumerate.
type instanceOptions struct {
	names []string
	apis  []Api
}

// WithBackends restricts enumeration to the named registered backends.
// Names are probed in registry priority order regardless of argument order.
func WithBackends(names ...string) InstanceOption {
	return func(o *instanceOptions) {
		o.names = append(o.names, names...)
	}
}

// WithApi probes the given Api values instead of the registry.
// Use this to drive a backend instance the caller configured directly.
//
// Example:
//
//	api := soft.New(soft.WithMemoryBudget(1 << 30))
//	adapters, err := halcore.Enumerate(halcore.WithApi(api))
func WithApi(apis ...Api) InstanceOption {
	return func(o *instanceOptions) {
		o.apis = append(o.apis, apis...)
	}
}

// SubmitOption configures a single Queue.Submit call.
type SubmitOption func(*submitOptions)

type fenceValue struct {
	fence *Fence
	value uint64
}

// submitOptions holds the fence dependencies of a submission.
type submitOptions struct {
	waits   []fenceValue
	signals []fenceValue
}

// WaitFence orders the submission after the point where f reaches value.
//
// A value f has already passed is accepted and forwarded to the backend
// as ordering metadata; it never blocks. A value f has never been
// signaled to is rejected with ErrInvalidState.
func WaitFence(f *Fence, value uint64) SubmitOption {
	return func(o *submitOptions) {
		o.waits = append(o.waits, fenceValue{fence: f, value: value})
	}
}

// SignalFence advances f to value once the submission completes.
// value must be greater than every value previously signaled on f.
func SignalFence(f *Fence, value uint64) SubmitOption {
	return func(o *submitOptions) {
		o.signals = append(o.signals, fenceValue{fence: f, value: value})
	}
}
