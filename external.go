package halcore

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
)

// ProcLoader resolves a GL entry point by name. It returns nil for
// symbols the context does not provide.
type ProcLoader func(name string) unsafe.Pointer

// ExternalOptions configures the adoption of a caller-owned context.
type ExternalOptions struct {
	// GLBackend selects desktop GL or GLES entry points.
	GLBackend gputypes.GLBackend

	// RequiredSymbols are resolved through the loader before adoption;
	// any that resolve to nil fail the adoption. Backends add their own
	// required set on top.
	RequiredSymbols []string
}

// ExternalApi is implemented by backends that can drive a graphics
// context created and owned by the caller.
type ExternalApi interface {
	Api

	// Adopt wraps the context current on the calling thread. The backend
	// never creates, makes current or destroys that context.
	Adopt(loader ProcLoader, opts ExternalOptions) (ExposedAdapter, error)
}

// NewExternalAdapter builds an Adapter around a caller-owned context.
// The context must be current on the calling thread. Devices opened from
// the adapter behave exactly like those of enumerated adapters.
func NewExternalAdapter(api ExternalApi, loader ProcLoader, opts ExternalOptions) (*Adapter, error) {
	if loader == nil {
		return nil, fmt.Errorf("%w: nil proc loader", ErrInvalidState)
	}
	propagateLogger(api)
	e, err := api.Adopt(loader, opts)
	if err != nil {
		return nil, fmt.Errorf("adopt external context on %s: %w", api.Name(), err)
	}
	Logger().Info("halcore: external context adopted",
		"backend", api.Name(),
		"renderer", e.Info.Name,
		"gl", opts.GLBackend.String())
	return newAdapter(api, e, true), nil
}

// ContextState is the binding state of an external context. It is either
// NotCurrent or Current.
type ContextState interface {
	contextState()
}

// NotCurrent means no surface is bound; the application is suspended.
type NotCurrent struct{}

// Current means the context is current on a surface of a live window.
type Current struct {
	Surface any
	Window  any
}

func (NotCurrent) contextState() {}
func (Current) contextState()    {}

// LifecycleKind is an application lifecycle transition.
type LifecycleKind uint8

const (
	// Resumed: a window and surface are available again.
	Resumed LifecycleKind = iota + 1
	// Suspended: the surface is about to go away.
	Suspended
)

// String returns the event name.
func (k LifecycleKind) String() string {
	switch k {
	case Resumed:
		return "Resumed"
	case Suspended:
		return "Suspended"
	default:
		return fmt.Sprintf("LifecycleKind(%d)", uint8(k))
	}
}

// LifecycleEvent carries the surface and window of a Resumed event.
type LifecycleEvent struct {
	Kind    LifecycleKind
	Surface any
	Window  any
}

// ContextBinder makes the caller's context current or releases it. It is
// supplied by the windowing layer that owns the context.
type ContextBinder interface {
	MakeCurrent(surface, window any) error
	ReleaseCurrent() error
}

// ExternalContext tracks whether a caller-owned context is bound. State
// changes only through HandleLifecycle, so it is never observed Current
// without a live surface.
type ExternalContext struct {
	binder ContextBinder

	mu    sync.Mutex
	state ContextState
}

// NewExternalContext returns a context tracker in the NotCurrent state.
func NewExternalContext(binder ContextBinder) *ExternalContext {
	return &ExternalContext{binder: binder, state: NotCurrent{}}
}

// State returns the current binding state.
func (c *ExternalContext) State() ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandleLifecycle applies a lifecycle transition.
//
// Resumed binds the context to the event's surface and moves to Current;
// resuming while already Current fails with ErrInvalidState. Suspended
// releases the context and moves to NotCurrent; suspending while
// NotCurrent does nothing. If the binder fails the state is unchanged.
func (c *ExternalContext) HandleLifecycle(ev LifecycleEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case Resumed:
		if _, ok := c.state.(Current); ok {
			return fmt.Errorf("%w: context already current", ErrInvalidState)
		}
		if ev.Surface == nil || ev.Window == nil {
			return fmt.Errorf("%w: resume without surface or window", ErrInvalidState)
		}
		if err := c.binder.MakeCurrent(ev.Surface, ev.Window); err != nil {
			return fmt.Errorf("make context current: %w", err)
		}
		c.state = Current{Surface: ev.Surface, Window: ev.Window}
	case Suspended:
		if _, ok := c.state.(NotCurrent); ok {
			return nil
		}
		if err := c.binder.ReleaseCurrent(); err != nil {
			return fmt.Errorf("release context: %w", err)
		}
		c.state = NotCurrent{}
	default:
		return fmt.Errorf("%w: unknown lifecycle event %s", ErrInvalidState, ev.Kind)
	}
	Logger().Debug("halcore: context lifecycle", "event", ev.Kind.String())
	return nil
}
