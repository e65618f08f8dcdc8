package halcore

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/gpucontext"
)

// apiPriority is the order in which backend families are probed.
// Families not listed follow in name order.
var apiPriority = []string{"vulkan", "metal", "dx12", "gles", "empty", "soft"}

var apis = gpucontext.NewRegistry[Api](gpucontext.WithPriority(apiPriority...))

// RegisterApi registers a backend family under name.
// Backend packages call this from init; registering a name again
// replaces the previous factory.
func RegisterApi(name string, factory func() Api) {
	apis.Register(name, factory)
}

// UnregisterApi removes a backend family from the registry.
func UnregisterApi(name string) {
	apis.Unregister(name)
}

// Apis returns the registered backend names in probe order.
func Apis() []string {
	names := apis.Available()
	slices.SortFunc(names, func(a, b string) int {
		ia, ib := priorityIndex(a), priorityIndex(b)
		if ia != ib {
			return ia - ib
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	return names
}

func priorityIndex(name string) int {
	if i := slices.Index(apiPriority, name); i >= 0 {
		return i
	}
	return len(apiPriority)
}

// Enumerate probes backends and returns one Adapter per discovered
// backend/device pair, in backend priority order.
//
// Every call re-probes hardware. A backend that fails to probe is logged
// and skipped; Enumerate fails with ErrNoAdapter only when no backend
// produced an adapter.
func Enumerate(opts ...InstanceOption) ([]*Adapter, error) {
	var o instanceOptions
	for _, opt := range opts {
		opt(&o)
	}

	candidates := o.apis
	if len(candidates) == 0 {
		for _, name := range Apis() {
			if len(o.names) > 0 && !slices.Contains(o.names, name) {
				continue
			}
			if api := apis.Get(name); api != nil {
				candidates = append(candidates, api)
			}
		}
	}

	log := Logger()
	var adapters []*Adapter
	var errs []error
	for _, api := range candidates {
		propagateLogger(api)
		exposed, err := api.Probe()
		if err != nil {
			log.Warn("halcore: backend probe failed", "backend", api.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", api.Name(), err))
			continue
		}
		for _, e := range exposed {
			adapters = append(adapters, newAdapter(api, e, false))
			log.Debug("halcore: adapter found",
				"backend", api.Name(),
				"name", e.Info.Name,
				"type", e.Info.DeviceType.String())
		}
	}

	if len(adapters) == 0 {
		if len(errs) == 0 {
			return nil, ErrNoAdapter
		}
		return nil, fmt.Errorf("%w: %w", ErrNoAdapter, errors.Join(errs...))
	}
	return adapters, nil
}
