// Package halcore is the hardware abstraction core of the GoGPU stack.
//
// # Overview
//
// halcore sits between a WebGPU-style front end and the native graphics
// APIs. It enumerates adapters, opens devices, and owns the bookkeeping
// every backend needs: resource lifetimes, usage tracking and barrier
// insertion, submission ordering, fences and asynchronous buffer mapping.
// Backends only translate already-validated commands.
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/halcore"
//		_ "github.com/gogpu/halcore/backend/soft"
//	)
//
//	adapters, err := halcore.Enumerate()
//	if err != nil {
//		return err
//	}
//	dev, err := adapters[0].Open(0, gputypes.Limits{})
//	if err != nil {
//		return err
//	}
//	defer dev.Destroy()
//
// # Backends
//
// Backends register themselves with RegisterApi from an init function.
// Enumerate probes every registered backend in priority order (vulkan,
// metal, dx12, gles, empty, soft) and skips those that fail to load.
//
//   - backend/soft: CPU reference backend, always available
//   - backend/wgpuhal: Vulkan, Metal, DX12 and GLES through gogpu/wgpu/hal
//
// # Submission Model
//
// Command encoders record into command buffers; the queue submits them in
// order and assigns each batch a monotonically increasing SubmissionIndex.
// Completion is observed only through Device.Poll, which retires finished
// work, releases deferred destroys and delivers buffer-map results in
// submission order.
//
// # External Contexts
//
// NewExternalAdapter wraps a GL context created by the application and
// ExternalContext follows its suspend and resume lifecycle. halcore never
// creates, binds or destroys such a context on its own.
package halcore

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0-alpha.1"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0

	// VersionPrerelease is the prerelease identifier
	VersionPrerelease = "alpha.1"
)
