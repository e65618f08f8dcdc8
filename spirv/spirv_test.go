package spirv

import (
	"encoding/binary"
	"errors"
	"slices"
	"testing"
	"unsafe"

	nagaspirv "github.com/gogpu/naga/spirv"
)

// buildModule returns a minimal, valid SPIR-V module as produced by naga.
func buildModule(t *testing.T) []byte {
	t.Helper()
	b := nagaspirv.NewModuleBuilder(nagaspirv.Version1_3)
	b.AddCapability(nagaspirv.CapabilityShader)
	b.SetMemoryModel(nagaspirv.AddressingModelLogical, nagaspirv.MemoryModelGLSL450)
	return b.Build()
}

// decodeLE decodes b as little-endian words, the byte order naga emits.
func decodeLE(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

func swapBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i := 0; i < len(b); i += 4 {
		out[i], out[i+1], out[i+2], out[i+3] = b[i+3], b[i+2], b[i+1], b[i]
	}
	return out
}

func TestNormalizeAligned(t *testing.T) {
	raw := buildModule(t)
	m, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if m.Words[0] != Magic {
		t.Errorf("word 0 = %#x, want %#x", m.Words[0], Magic)
	}
	if !slices.Equal(m.Words, decodeLE(raw)) {
		t.Error("words differ from the encoded module")
	}
	if !m.Swapped {
		// Native order and aligned: words must alias the input.
		if m.Owned {
			t.Error("aligned native module was copied")
		}
		if unsafe.Pointer(&m.Words[0]) != unsafe.Pointer(&raw[0]) {
			t.Error("aligned native module does not alias input")
		}
	}

	h, err := m.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if h.Major() != 1 || h.Minor() != 3 {
		t.Errorf("version = %d.%d, want 1.3", h.Major(), h.Minor())
	}
}

func TestNormalizeUnaligned(t *testing.T) {
	raw := buildModule(t)
	buf := make([]byte, len(raw)+1)
	copy(buf[1:], raw)
	unaligned := buf[1:]

	m, err := Normalize(unaligned)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !m.Owned {
		t.Error("unaligned input must be copied")
	}
	if !slices.Equal(m.Words, decodeLE(raw)) {
		t.Error("words differ from the encoded module")
	}
}

func TestNormalizeSwappedRoundTrip(t *testing.T) {
	raw := buildModule(t)
	native, err := Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := slices.Clone(native.Words)

	swapped := swapBytes(raw)
	m, err := Normalize(swapped)
	if err != nil {
		t.Fatalf("Normalize(swapped): %v", err)
	}
	if m.Swapped == native.Swapped {
		t.Error("Swapped flag did not flip for the opposite byte order")
	}
	if !m.Owned {
		t.Error("swapped module must be owned")
	}
	if !slices.Equal(m.Words, want) {
		t.Errorf("round trip mismatch:\n got %x\nwant %x", m.Words, want)
	}
	// The caller's buffer is never modified.
	if !slices.Equal(swapped, swapBytes(raw)) {
		t.Error("input buffer was modified")
	}
}

func TestNormalizeErrors(t *testing.T) {
	bad := make([]byte, 20)
	binary.LittleEndian.PutUint32(bad, 0xDEADBEEF)

	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"nil", nil, ErrMalformedModule},
		{"empty", []byte{}, ErrMalformedModule},
		{"three bytes", []byte{0x03, 0x02, 0x23}, ErrMalformedModule},
		{"six bytes", []byte{0x03, 0x02, 0x23, 0x07, 0, 0}, ErrMalformedModule},
		{"bad magic", bad, ErrBadMagic},
		{"zero word", make([]byte, 4), ErrBadMagic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateAndNormalize(tt.input)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHeaderTooShort(t *testing.T) {
	m := Module{Words: []uint32{Magic, 0x00010300}}
	if _, err := m.Header(); !errors.Is(err, ErrMalformedModule) {
		t.Errorf("Header() err = %v, want ErrMalformedModule", err)
	}
}

func TestFromWGSL(t *testing.T) {
	const src = `
@compute @workgroup_size(1)
fn main() {}
`
	m, err := FromWGSL(src)
	if err != nil {
		t.Fatalf("FromWGSL: %v", err)
	}
	if m.Len() <= HeaderWords || m.Words[0] != Magic {
		t.Errorf("unexpected module: %d words, word 0 = %#x", m.Len(), m.Words[0])
	}
}

func TestFromWGSLInvalid(t *testing.T) {
	if _, err := FromWGSL("fn ("); err == nil {
		t.Error("expected compile error")
	}
}
