package halcore

import (
	"errors"
	"fmt"

	"github.com/gogpu/halcore/spirv"
)

// Sentinel errors. Every error returned by halcore wraps exactly one of
// these; test with errors.Is.
var (
	// ErrUnsupportedFeature is returned when requested features or limits
	// exceed what the adapter reports.
	ErrUnsupportedFeature = errors.New("halcore: unsupported feature")

	// ErrDeviceLost is returned once the backend has lost the device.
	// It is terminal: every later operation on the device fails with it.
	ErrDeviceLost = errors.New("halcore: device lost")

	// ErrOutOfMemory is returned when the backend cannot allocate a resource.
	ErrOutOfMemory = errors.New("halcore: out of memory")

	// ErrInvalidUsage is returned when usage flags, formats or ranges
	// do not match what a resource was created for.
	ErrInvalidUsage = errors.New("halcore: invalid usage")

	// ErrInvalidState is returned when an object is not in a state that
	// allows the operation.
	ErrInvalidState = errors.New("halcore: invalid state")

	// ErrResourceHazard is returned when two uses of one resource conflict
	// inside a single unsynchronized scope.
	ErrResourceHazard = errors.New("halcore: resource hazard")

	// ErrSubmitFailed is returned when the backend rejects a submission.
	ErrSubmitFailed = errors.New("halcore: submit failed")

	// ErrMapAborted is delivered to a pending map whose buffer was
	// unmapped or destroyed before the map resolved.
	ErrMapAborted = errors.New("halcore: map aborted")

	// ErrLimitExceeded is returned when a descriptor exceeds a device limit.
	ErrLimitExceeded = errors.New("halcore: limit exceeded")

	// ErrNoAdapter is returned by Enumerate when no backend produced an adapter.
	ErrNoAdapter = errors.New("halcore: no adapter available")

	// ErrMalformedModule is returned for shader binaries with bad framing.
	ErrMalformedModule = spirv.ErrMalformedModule

	// ErrBadMagic is returned for shader binaries with an unknown magic number.
	ErrBadMagic = spirv.ErrBadMagic
)

// ErrResourceDestroyed is returned when a destroyed resource is used.
var ErrResourceDestroyed = fmt.Errorf("%w: resource destroyed", ErrInvalidState)
