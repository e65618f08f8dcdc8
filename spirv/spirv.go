// Package spirv validates the framing of SPIR-V binaries and normalizes
// them to native-endian 32-bit words.
//
// SPIR-V does not declare its byte order; the magic number in word 0 is the
// only hint. Normalize accepts both byte orders and reads well-aligned input
// in place without copying.
package spirv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/gogpu/naga"
)

// Magic is the SPIR-V magic number in native word order.
const Magic uint32 = 0x07230203

// HeaderWords is the number of words in a SPIR-V module header.
const HeaderWords = 5

var (
	// ErrMalformedModule is returned for empty input or a length that is
	// not a multiple of 4.
	ErrMalformedModule = errors.New("spirv: malformed module")

	// ErrBadMagic is returned when word 0 is neither the magic number nor
	// its byte swap.
	ErrBadMagic = errors.New("spirv: bad magic number")
)

// Module is a normalized SPIR-V word stream.
type Module struct {
	// Words holds the module in native word order.
	Words []uint32

	// Owned is false when Words aliases the caller's byte slice.
	// Callers must not modify the input while an aliasing Module is in use.
	Owned bool

	// Swapped is true when the input was in the opposite byte order.
	Swapped bool
}

// Normalize validates the framing of b and returns its words in native
// order.
//
// If b is 4-byte aligned it is reinterpreted in place; otherwise it is
// copied into a fresh buffer. A byte-swapped module is always copied
// (if still borrowed) and then swapped word by word.
func Normalize(b []byte) (Module, error) {
	if len(b) == 0 {
		return Module{}, fmt.Errorf("%w: empty input", ErrMalformedModule)
	}
	if len(b)%4 != 0 {
		return Module{}, fmt.Errorf("%w: length %d is not a multiple of 4", ErrMalformedModule, len(b))
	}

	var m Module
	if uintptr(unsafe.Pointer(unsafe.SliceData(b)))%4 == 0 {
		m.Words = unsafe.Slice((*uint32)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/4)
	} else {
		m.Words = make([]uint32, len(b)/4)
		for i := range m.Words {
			m.Words[i] = binary.NativeEndian.Uint32(b[i*4:])
		}
		m.Owned = true
	}

	switch m.Words[0] {
	case Magic:
		return m, nil
	case bits.ReverseBytes32(Magic):
		if !m.Owned {
			owned := make([]uint32, len(m.Words))
			copy(owned, m.Words)
			m.Words = owned
			m.Owned = true
		}
		for i, w := range m.Words {
			m.Words[i] = bits.ReverseBytes32(w)
		}
		m.Swapped = true
		return m, nil
	default:
		return Module{}, fmt.Errorf("%w: %#08x", ErrBadMagic, m.Words[0])
	}
}

// ValidateAndNormalize is Normalize returning only the words.
func ValidateAndNormalize(b []byte) ([]uint32, error) {
	m, err := Normalize(b)
	if err != nil {
		return nil, err
	}
	return m.Words, nil
}

// Header is the five-word SPIR-V module header.
type Header struct {
	Magic     uint32
	Version   uint32
	Generator uint32
	Bound     uint32
	Schema    uint32
}

// Major returns the major version number.
func (h Header) Major() uint8 { return uint8(h.Version >> 16) }

// Minor returns the minor version number.
func (h Header) Minor() uint8 { return uint8(h.Version >> 8) }

// Header decodes the module header.
func (m Module) Header() (Header, error) {
	if len(m.Words) < HeaderWords {
		return Header{}, fmt.Errorf("%w: %d words, header needs %d", ErrMalformedModule, len(m.Words), HeaderWords)
	}
	return Header{
		Magic:     m.Words[0],
		Version:   m.Words[1],
		Generator: m.Words[2],
		Bound:     m.Words[3],
		Schema:    m.Words[4],
	}, nil
}

// Len returns the module size in words.
func (m Module) Len() int { return len(m.Words) }

// FromWGSL compiles WGSL source with naga and normalizes the result.
func FromWGSL(source string) (Module, error) {
	b, err := naga.Compile(source)
	if err != nil {
		return Module{}, fmt.Errorf("spirv: compile WGSL: %w", err)
	}
	return Normalize(b)
}
