package halcore

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore/internal/track"
)

// bufferUsage maps an internal buffer state onto the public usage bits a
// backend transitions between.
func bufferUsage(u track.Usage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u&track.UsageCopySrc != 0 {
		out |= gputypes.BufferUsageCopySrc
	}
	if u&track.UsageCopyDst != 0 {
		out |= gputypes.BufferUsageCopyDst
	}
	if u&track.UsageMapRead != 0 {
		out |= gputypes.BufferUsageMapRead
	}
	if u&track.UsageMapWrite != 0 {
		out |= gputypes.BufferUsageMapWrite
	}
	if u&track.UsageVertex != 0 {
		out |= gputypes.BufferUsageVertex
	}
	if u&track.UsageIndex != 0 {
		out |= gputypes.BufferUsageIndex
	}
	if u&track.UsageIndirect != 0 {
		out |= gputypes.BufferUsageIndirect
	}
	if u&track.UsageUniform != 0 {
		out |= gputypes.BufferUsageUniform
	}
	if u&(track.UsageStorageRead|track.UsageStorageWrite) != 0 {
		out |= gputypes.BufferUsageStorage
	}
	return out
}

// textureUsage maps an internal texture state onto public usage bits.
func textureUsage(u track.Usage) gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if u&track.UsageCopySrc != 0 {
		out |= gputypes.TextureUsageCopySrc
	}
	if u&track.UsageCopyDst != 0 {
		out |= gputypes.TextureUsageCopyDst
	}
	if u&track.UsageSampled != 0 {
		out |= gputypes.TextureUsageTextureBinding
	}
	if u&(track.UsageStorageRead|track.UsageStorageWrite) != 0 {
		out |= gputypes.TextureUsageStorageBinding
	}
	if u&(track.UsageColorTarget|track.UsageDepthRead|track.UsageDepthWrite|track.UsageResolve) != 0 {
		out |= gputypes.TextureUsageRenderAttachment
	}
	return out
}

// srgbTwin returns the sRGB or linear counterpart of f, or f itself.
func srgbTwin(f gputypes.TextureFormat) gputypes.TextureFormat {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8UnormSrgb
	case gputypes.TextureFormatRGBA8UnormSrgb:
		return gputypes.TextureFormatRGBA8Unorm
	case gputypes.TextureFormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8UnormSrgb
	case gputypes.TextureFormatBGRA8UnormSrgb:
		return gputypes.TextureFormatBGRA8Unorm
	}
	return f
}
