package soft

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore"
)

// glSymbols must resolve for any adopted context.
var glSymbols = []string{
	"glGetString",
	"glGetIntegerv",
	"glGetError",
	"glFlush",
	"glFinish",
}

// glesSymbols are additionally required for GLES contexts.
var glesSymbols = []string{
	"glGetStringi",
}

// externalContext records the entry points of an adopted context.
// The backend never creates, binds or destroys the context itself.
type externalContext struct {
	gl      gputypes.GLBackend
	symbols map[string]unsafe.Pointer
}

// Adopt wraps the GL context current on the calling thread. Every
// required entry point must resolve through loader. Devices opened from
// the adapter execute on the CPU and share the context's lifetime with
// the caller.
func (a *API) Adopt(loader halcore.ProcLoader, opts halcore.ExternalOptions) (halcore.ExposedAdapter, error) {
	required := append([]string(nil), glSymbols...)
	if opts.GLBackend == gputypes.GLBackendGLES {
		required = append(required, glesSymbols...)
	}
	required = append(required, opts.RequiredSymbols...)

	ctx := &externalContext{gl: opts.GLBackend, symbols: make(map[string]unsafe.Pointer, len(required))}
	var missing []string
	for _, name := range required {
		p := loader(name)
		if p == nil {
			missing = append(missing, name)
			continue
		}
		ctx.symbols[name] = p
	}
	if len(missing) > 0 {
		return halcore.ExposedAdapter{}, fmt.Errorf("%w: context lacks %v", halcore.ErrUnsupportedFeature, missing)
	}

	info := gputypes.AdapterInfo{
		Name:       "halcore software rasterizer (external " + opts.GLBackend.String() + ")",
		Vendor:     a.cfg.info.Vendor,
		DeviceType: gputypes.DeviceTypeCPU,
		Driver:     "soft",
		DriverInfo: fmt.Sprintf("%d entry points", len(ctx.symbols)),
		Backend:    gputypes.BackendGL,
	}
	a.log().Debug("soft: adopted external context", "gl", opts.GLBackend.String(), "symbols", len(ctx.symbols))
	return halcore.ExposedAdapter{
		Adapter:  &adapter{api: a, info: info, budget: a.cfg.budget, external: ctx},
		Info:     info,
		Features: a.cfg.features,
		Limits:   a.cfg.limits,
	}, nil
}
