package halcore

import (
	"fmt"

	"github.com/gogpu/halcore/internal/arena"
	"github.com/gogpu/halcore/spirv"
)

// ShaderModule is a SPIR-V module handed to the backend in native word
// order.
type ShaderModule struct {
	device *Device
	id     arena.ID
	raw    RawShaderModule
	label  string
	header spirv.Header
	words  int
}

// ID returns the module's arena identifier.
func (s *ShaderModule) ID() uint64 { return uint64(s.id) }

// Label returns the debug label.
func (s *ShaderModule) Label() string { return s.label }

// Header returns the SPIR-V header of the module.
func (s *ShaderModule) Header() spirv.Header { return s.header }

// WordCount returns the module length in 32-bit words.
func (s *ShaderModule) WordCount() int { return s.words }

// Destroy releases the module. Destroy is idempotent.
func (s *ShaderModule) Destroy() {
	if _, ok := s.device.shaders.Remove(s.id); ok {
		s.device.raw.DestroyShaderModule(s.raw)
	}
}

func normalizeModule(code []byte) (spirv.Module, error) {
	m, err := spirv.Normalize(code)
	if err != nil {
		return spirv.Module{}, err
	}
	if _, err := m.Header(); err != nil {
		return spirv.Module{}, err
	}
	return m, nil
}

func compileWGSL(source string) (spirv.Module, error) {
	m, err := spirv.FromWGSL(source)
	if err != nil {
		return spirv.Module{}, fmt.Errorf("%w: %w", ErrInvalidUsage, err)
	}
	return m, nil
}

func (d *Device) createShaderModule(label string, m spirv.Module) (*ShaderModule, error) {
	h, err := m.Header()
	if err != nil {
		return nil, fmt.Errorf("shader module %q: %w", label, err)
	}
	raw, err := d.raw.CreateShaderModule(label, m.Words)
	if err != nil {
		d.noteErr(err)
		return nil, fmt.Errorf("create shader module %q: %w", label, err)
	}
	s := &ShaderModule{device: d, raw: raw, label: label, header: h, words: m.Len()}
	s.id = d.shaders.Insert(s)
	return s, nil
}
