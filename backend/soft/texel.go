package soft

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/gputypes"
)

// TexelBytes returns the size of one texel of f, or 0 for formats the
// software backend stores no contents for (block-compressed and
// combined depth/stencil formats).
func TexelBytes(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint,
		gputypes.TextureFormatStencil8:
		return 1
	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Float,
		gputypes.TextureFormatRG8Unorm, gputypes.TextureFormatDepth16Unorm:
		return 2
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatRGBA8Snorm, gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA8Sint,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatR32Sint, gputypes.TextureFormatRG16Float,
		gputypes.TextureFormatDepth24Plus, gputypes.TextureFormatDepth32Float:
		return 4
	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRGBA16Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

func unorm8(v float64) byte {
	v = math.Max(0, math.Min(1, v))
	return byte(math.Round(v * 255))
}

// linearToSrgb applies the sRGB transfer function.
func linearToSrgb(v float64) float64 {
	v = math.Max(0, math.Min(1, v))
	if v <= 0.0031308 {
		return v * 12.92
	}
	return 1.055*math.Pow(v, 1/2.4) - 0.055
}

// halfBits converts f to IEEE 754 binary16, flushing subnormals to zero.
func halfBits(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	exp := int((b>>23)&0xff) - 127 + 15
	mant := b & 0x7fffff
	switch {
	case (b>>23)&0xff == 0xff:
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		return sign
	}
	return sign | uint16(exp)<<10 | uint16(mant>>13)
}

// EncodeColor returns the texel a clear to c writes for format f, or nil
// for formats without a defined encoding.
func EncodeColor(f gputypes.TextureFormat, c gputypes.Color) []byte {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm:
		return []byte{unorm8(c.R), unorm8(c.G), unorm8(c.B), unorm8(c.A)}
	case gputypes.TextureFormatRGBA8UnormSrgb:
		return []byte{unorm8(linearToSrgb(c.R)), unorm8(linearToSrgb(c.G)), unorm8(linearToSrgb(c.B)), unorm8(c.A)}
	case gputypes.TextureFormatBGRA8Unorm:
		return []byte{unorm8(c.B), unorm8(c.G), unorm8(c.R), unorm8(c.A)}
	case gputypes.TextureFormatBGRA8UnormSrgb:
		return []byte{unorm8(linearToSrgb(c.B)), unorm8(linearToSrgb(c.G)), unorm8(linearToSrgb(c.R)), unorm8(c.A)}
	case gputypes.TextureFormatR8Unorm:
		return []byte{unorm8(c.R)}
	case gputypes.TextureFormatR32Float:
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(c.R)))
	case gputypes.TextureFormatRGBA16Float:
		out := make([]byte, 0, 8)
		for _, v := range [4]float64{c.R, c.G, c.B, c.A} {
			out = binary.LittleEndian.AppendUint16(out, halfBits(float32(v)))
		}
		return out
	case gputypes.TextureFormatRGBA32Float:
		out := make([]byte, 0, 16)
		for _, v := range [4]float64{c.R, c.G, c.B, c.A} {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(v)))
		}
		return out
	default:
		return nil
	}
}

// EncodeDepth returns the texel a depth clear to v writes for format f.
func EncodeDepth(f gputypes.TextureFormat, v float32) []byte {
	switch f {
	case gputypes.TextureFormatDepth16Unorm:
		return binary.LittleEndian.AppendUint16(nil, uint16(math.Round(float64(v)*math.MaxUint16)))
	case gputypes.TextureFormatDepth24Plus, gputypes.TextureFormatDepth32Float:
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(v))
	default:
		return nil
	}
}
