// Package track records how commands use GPU resources and derives the
// synchronization needed between those uses.
//
// A Scope collects the uses of one unsynchronized window (a render pass or a
// single transfer command) and rejects conflicting accesses. A Tracker
// strings the scopes of one encoder together and emits a Barrier wherever a
// resource's usage changes between scopes. A State does the same across
// command buffers at submission time, for the whole device.
package track

import (
	"errors"
	"fmt"
	"strings"
)

// ErrHazard is returned when two uses in one scope conflict.
var ErrHazard = errors.New("track: resource hazard")

// Usage is a bitset of internal resource states.
type Usage uint32

const (
	UsageCopySrc Usage = 1 << iota
	UsageCopyDst
	UsageMapRead
	UsageMapWrite
	UsageVertex
	UsageIndex
	UsageIndirect
	UsageUniform
	UsageStorageRead
	UsageStorageWrite
	UsageSampled
	UsageColorTarget
	UsageDepthRead
	UsageDepthWrite
	UsageResolve
	UsagePresent
)

// UsageNone is the state of a resource that has never been used.
const UsageNone Usage = 0

const (
	writeMask = UsageCopyDst | UsageMapWrite | UsageStorageWrite |
		UsageColorTarget | UsageDepthWrite | UsageResolve

	// orderedMask holds states whose repeated use needs no barrier:
	// read-only states plus attachment writes, which the render pass
	// orders by itself.
	orderedMask = UsageCopySrc | UsageMapRead | UsageVertex | UsageIndex |
		UsageIndirect | UsageUniform | UsageStorageRead | UsageSampled |
		UsageDepthRead | UsagePresent | UsageColorTarget | UsageDepthWrite |
		UsageMapWrite
)

var usageNames = [...]string{
	"CopySrc", "CopyDst", "MapRead", "MapWrite", "Vertex", "Index",
	"Indirect", "Uniform", "StorageRead", "StorageWrite", "Sampled",
	"ColorTarget", "DepthRead", "DepthWrite", "Resolve", "Present",
}

// IsWrite reports whether u contains any writing state.
func (u Usage) IsWrite() bool { return u&writeMask != 0 }

// IsOrdered reports whether back-to-back uses in state u are safe
// without a barrier.
func (u Usage) IsOrdered() bool { return u != 0 && u&^orderedMask == 0 }

// Compatible reports whether u and o may overlap in one scope.
// Any number of reads may overlap; a write overlaps nothing.
func (u Usage) Compatible(o Usage) bool {
	return !u.IsWrite() && !o.IsWrite()
}

func (u Usage) String() string {
	if u == UsageNone {
		return "None"
	}
	var parts []string
	for i, name := range usageNames {
		if u&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// NeedsBarrier reports whether moving a resource from prev to next
// requires synchronization.
func NeedsBarrier(prev, next Usage) bool {
	if prev != next {
		return true
	}
	return !next.IsOrdered()
}

// Kind distinguishes the resource tables a Key can point into.
type Kind uint8

const (
	KindBuffer Kind = iota + 1
	KindTexture
)

func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindTexture:
		return "texture"
	default:
		return "unknown"
	}
}

// Key identifies a tracked resource.
type Key struct {
	Kind Kind
	ID   uint64
}

func (k Key) String() string { return fmt.Sprintf("%s#%d", k.Kind, k.ID) }

// BufferKey returns the key of a buffer.
func BufferKey(id uint64) Key { return Key{Kind: KindBuffer, ID: id} }

// TextureKey returns the key of a texture.
func TextureKey(id uint64) Key { return Key{Kind: KindTexture, ID: id} }

func compareKeys(a, b Key) int {
	if a.Kind != b.Kind {
		return int(a.Kind) - int(b.Kind)
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Region is a half-open box over a resource: a byte range for buffers,
// a mip range by layer range for textures.
type Region struct {
	X0, X1 uint64
	Y0, Y1 uint64
}

// BufferRegion returns the region covering size bytes at offset.
func BufferRegion(offset, size uint64) Region {
	return Region{X0: offset, X1: offset + size, Y0: 0, Y1: 1}
}

// TextureRegion returns the region covering the given subresources.
func TextureRegion(baseMip, mipCount, baseLayer, layerCount uint32) Region {
	return Region{
		X0: uint64(baseMip), X1: uint64(baseMip) + uint64(mipCount),
		Y0: uint64(baseLayer), Y1: uint64(baseLayer) + uint64(layerCount),
	}
}

// Empty reports whether the region covers nothing.
func (r Region) Empty() bool { return r.X0 >= r.X1 || r.Y0 >= r.Y1 }

// Overlaps reports whether r and o share any element.
func (r Region) Overlaps(o Region) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.X0 < o.X1 && o.X0 < r.X1 && r.Y0 < o.Y1 && o.Y0 < r.Y1
}

// Barrier is a usage transition for one resource.
type Barrier struct {
	Key  Key
	From Usage
	To   Usage
}

func (b Barrier) String() string {
	return fmt.Sprintf("%s: %s -> %s", b.Key, b.From, b.To)
}
