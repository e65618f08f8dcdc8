package halcore

import (
	"fmt"
	"math/bits"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore/internal/arena"
	"github.com/gogpu/halcore/internal/track"
)

// Texture is an image allocation with mip levels and array layers.
type Texture struct {
	device *Device
	id     arena.ID
	raw    RawTexture
	desc   gputypes.TextureDescriptor

	mu    sync.Mutex
	views []*TextureView
}

// ID returns the texture's arena identifier.
func (t *Texture) ID() uint64 { return uint64(t.id) }

// Label returns the debug label.
func (t *Texture) Label() string { return t.desc.Label }

// Size returns the extent of mip level 0.
func (t *Texture) Size() gputypes.Extent3D { return t.desc.Size }

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// Usage returns the usage flags the texture was created with.
func (t *Texture) Usage() gputypes.TextureUsage { return t.desc.Usage }

// Dimension returns the texture dimension.
func (t *Texture) Dimension() gputypes.TextureDimension { return t.desc.Dimension }

// MipLevelCount returns the number of mip levels.
func (t *Texture) MipLevelCount() uint32 { return t.desc.MipLevelCount }

// SampleCount returns the number of samples per texel.
func (t *Texture) SampleCount() uint32 { return t.desc.SampleCount }

// ArrayLayers returns the number of array layers; 1 for 3D textures.
func (t *Texture) ArrayLayers() uint32 {
	if t.desc.Dimension == gputypes.TextureDimension3D {
		return 1
	}
	return t.desc.Size.DepthOrArrayLayers
}

// MipSize returns the extent of the given mip level.
func (t *Texture) MipSize(level uint32) gputypes.Extent3D {
	return mipExtent(t.desc.Dimension, t.desc.Size, level)
}

func (t *Texture) key() track.Key { return track.TextureKey(uint64(t.id)) }

func (t *Texture) alive() bool { return t.device.textures.Contains(t.id) }

// CreateView creates a view of the texture. A nil descriptor views the
// whole texture with its own format.
func (t *Texture) CreateView(desc *TextureViewDescriptor) (*TextureView, error) {
	d := t.device
	if err := d.check(); err != nil {
		return nil, err
	}
	if !t.alive() {
		return nil, fmt.Errorf("create view of %q: %w", t.desc.Label, ErrResourceDestroyed)
	}
	resolved, err := resolveViewDescriptor(&t.desc, desc)
	if err != nil {
		return nil, err
	}

	raw, err := d.raw.CreateTextureView(t.raw, &resolved)
	if err != nil {
		d.noteErr(err)
		return nil, fmt.Errorf("create view %q: %w", resolved.Label, err)
	}
	v := &TextureView{device: d, texture: t, raw: raw, desc: resolved}
	v.id = d.views.Insert(v)

	t.mu.Lock()
	t.views = append(t.views, v)
	t.mu.Unlock()
	return v, nil
}

// Destroy releases the texture and every view created from it once the
// last submission using the texture completes. Destroy is idempotent.
func (t *Texture) Destroy() {
	d := t.device
	if _, ok := d.textures.Remove(t.id); !ok {
		return
	}

	t.mu.Lock()
	views := t.views
	t.views = nil
	t.mu.Unlock()

	var rawViews []RawTextureView
	for _, v := range views {
		if _, ok := d.views.Remove(v.id); ok {
			rawViews = append(rawViews, v.raw)
		}
	}
	d.retire(t.key(), func() {
		for _, rv := range rawViews {
			d.raw.DestroyTextureView(rv)
		}
		d.raw.DestroyTexture(t.raw)
	})
}

func (t *Texture) forgetView(v *TextureView) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := slices.Index(t.views, v); i >= 0 {
		t.views = slices.Delete(t.views, i, i+1)
	}
}

// TextureViewDescriptor selects the subresources and interpretation of a
// texture view. Zero fields inherit from the texture: Format and Usage
// take the texture's values, Dimension follows the texture, and zero
// counts extend to the last mip level or array layer.
type TextureViewDescriptor struct {
	Label           string
	Format          gputypes.TextureFormat
	Dimension       gputypes.TextureViewDimension
	Usage           gputypes.TextureUsage
	Aspect          gputypes.TextureAspect
	BaseMipLevel    uint32
	MipLevelCount   uint32
	BaseArrayLayer  uint32
	ArrayLayerCount uint32
}

// TextureView is a typed window onto a subresource range of a texture.
type TextureView struct {
	device  *Device
	id      arena.ID
	texture *Texture
	raw     RawTextureView
	desc    TextureViewDescriptor
}

// ID returns the view's arena identifier.
func (v *TextureView) ID() uint64 { return uint64(v.id) }

// Descriptor returns the fully resolved view descriptor.
func (v *TextureView) Descriptor() TextureViewDescriptor { return v.desc }

// Texture returns the viewed texture, or ErrResourceDestroyed once the
// view or its texture is gone.
func (v *TextureView) Texture() (*Texture, error) {
	if !v.alive() {
		return nil, fmt.Errorf("view %q: %w", v.desc.Label, ErrResourceDestroyed)
	}
	return v.texture, nil
}

func (v *TextureView) alive() bool {
	return v.device.views.Contains(v.id) && v.texture.alive()
}

// Destroy releases the view once the last submission using its texture
// completes. Destroy is idempotent.
func (v *TextureView) Destroy() {
	d := v.device
	if _, ok := d.views.Remove(v.id); !ok {
		return
	}
	v.texture.forgetView(v)
	d.retire(v.texture.key(), func() { d.raw.DestroyTextureView(v.raw) })
}

func mipExtent(dim gputypes.TextureDimension, size gputypes.Extent3D, level uint32) gputypes.Extent3D {
	shrink := func(v uint32) uint32 { return max(v>>level, 1) }
	e := gputypes.Extent3D{
		Width:              shrink(size.Width),
		Height:             size.Height,
		DepthOrArrayLayers: size.DepthOrArrayLayers,
	}
	switch dim {
	case gputypes.TextureDimension1D:
		e.Height = 1
	case gputypes.TextureDimension3D:
		e.Height = shrink(size.Height)
		e.DepthOrArrayLayers = shrink(size.DepthOrArrayLayers)
	default:
		e.Height = shrink(size.Height)
	}
	return e
}

// maxMipLevels returns the length of the full mip chain for size.
func maxMipLevels(dim gputypes.TextureDimension, size gputypes.Extent3D) uint32 {
	m := size.Width
	switch dim {
	case gputypes.TextureDimension1D:
		return 1
	case gputypes.TextureDimension3D:
		m = max(m, size.Height, size.DepthOrArrayLayers)
	default:
		m = max(m, size.Height)
	}
	return uint32(bits.Len32(m))
}

// validateTextureDescriptor checks desc against limits and fills in
// defaulted fields.
func validateTextureDescriptor(desc *gputypes.TextureDescriptor, limits gputypes.Limits) error {
	label := desc.Label
	u := desc.Usage
	if u == gputypes.TextureUsageNone {
		return fmt.Errorf("%w: texture %q has no usage", ErrInvalidUsage, label)
	}
	if u.ContainsUnknownBits() {
		return fmt.Errorf("%w: texture %q has unknown usage bits %#x", ErrInvalidUsage, label, uint64(u))
	}
	if desc.Format == gputypes.TextureFormatUndefined {
		return fmt.Errorf("%w: texture %q has no format", ErrInvalidUsage, label)
	}
	if desc.Dimension == gputypes.TextureDimensionUndefined {
		desc.Dimension = gputypes.TextureDimension2D
	}
	if desc.Size.DepthOrArrayLayers == 0 {
		desc.Size.DepthOrArrayLayers = 1
	}
	if desc.MipLevelCount == 0 {
		desc.MipLevelCount = 1
	}
	if desc.SampleCount == 0 {
		desc.SampleCount = 1
	}

	s := desc.Size
	if s.Width == 0 || s.Height == 0 {
		return fmt.Errorf("%w: texture %q has zero extent %dx%d", ErrInvalidUsage, label, s.Width, s.Height)
	}

	switch desc.Dimension {
	case gputypes.TextureDimension1D:
		if s.Height != 1 || s.DepthOrArrayLayers != 1 {
			return fmt.Errorf("%w: 1D texture %q must have height and depth 1", ErrInvalidUsage, label)
		}
		if s.Width > limits.MaxTextureDimension1D {
			return fmt.Errorf("%w: texture %q width %d exceeds MaxTextureDimension1D %d", ErrLimitExceeded, label, s.Width, limits.MaxTextureDimension1D)
		}
		if u.Contains(gputypes.TextureUsageRenderAttachment) {
			return fmt.Errorf("%w: 1D texture %q cannot be a render attachment", ErrInvalidUsage, label)
		}
	case gputypes.TextureDimension2D:
		if s.Width > limits.MaxTextureDimension2D || s.Height > limits.MaxTextureDimension2D {
			return fmt.Errorf("%w: texture %q extent %dx%d exceeds MaxTextureDimension2D %d", ErrLimitExceeded, label, s.Width, s.Height, limits.MaxTextureDimension2D)
		}
		if s.DepthOrArrayLayers > limits.MaxTextureArrayLayers {
			return fmt.Errorf("%w: texture %q has %d layers, MaxTextureArrayLayers is %d", ErrLimitExceeded, label, s.DepthOrArrayLayers, limits.MaxTextureArrayLayers)
		}
	case gputypes.TextureDimension3D:
		m := limits.MaxTextureDimension3D
		if s.Width > m || s.Height > m || s.DepthOrArrayLayers > m {
			return fmt.Errorf("%w: texture %q extent exceeds MaxTextureDimension3D %d", ErrLimitExceeded, label, m)
		}
	default:
		return fmt.Errorf("%w: texture %q has unknown dimension %d", ErrInvalidUsage, label, desc.Dimension)
	}

	if chain := maxMipLevels(desc.Dimension, s); desc.MipLevelCount > chain {
		return fmt.Errorf("%w: texture %q requests %d mip levels, at most %d", ErrInvalidUsage, label, desc.MipLevelCount, chain)
	}

	switch desc.SampleCount {
	case 1:
	case 4:
		if desc.Dimension != gputypes.TextureDimension2D || desc.MipLevelCount != 1 || s.DepthOrArrayLayers != 1 {
			return fmt.Errorf("%w: multisampled texture %q must be a single-level 2D texture", ErrInvalidUsage, label)
		}
		if !u.Contains(gputypes.TextureUsageRenderAttachment) || u.Contains(gputypes.TextureUsageStorageBinding) {
			return fmt.Errorf("%w: multisampled texture %q must be a render attachment without storage binding", ErrInvalidUsage, label)
		}
	default:
		return fmt.Errorf("%w: texture %q sample count %d not in {1, 4}", ErrInvalidUsage, label, desc.SampleCount)
	}

	if desc.Format.IsDepthStencil() {
		if desc.Dimension != gputypes.TextureDimension2D {
			return fmt.Errorf("%w: depth texture %q must be 2D", ErrInvalidUsage, label)
		}
		if u.Contains(gputypes.TextureUsageStorageBinding) {
			return fmt.Errorf("%w: depth texture %q cannot be a storage binding", ErrInvalidUsage, label)
		}
	}

	for _, vf := range desc.ViewFormats {
		if vf != desc.Format && vf != srgbTwin(desc.Format) {
			return fmt.Errorf("%w: texture %q: view format %s incompatible with %s", ErrInvalidUsage, label, vf, desc.Format)
		}
	}
	return nil
}

// resolveViewDescriptor fills in a view descriptor from its texture and
// rejects views outside the texture or incompatible with it.
func resolveViewDescriptor(tex *gputypes.TextureDescriptor, desc *TextureViewDescriptor) (TextureViewDescriptor, error) {
	var v TextureViewDescriptor
	if desc != nil {
		v = *desc
	}
	label := v.Label

	if v.Format == gputypes.TextureFormatUndefined {
		v.Format = tex.Format
	} else if v.Format != tex.Format && !slices.Contains(tex.ViewFormats, v.Format) {
		return v, fmt.Errorf("%w: view %q format %s not compatible with %s", ErrInvalidUsage, label, v.Format, tex.Format)
	}

	if v.Usage == gputypes.TextureUsageNone {
		v.Usage = tex.Usage
	} else if v.Usage&^tex.Usage != 0 {
		return v, fmt.Errorf("%w: view %q usage %#x not a subset of texture usage %#x", ErrInvalidUsage, label, uint64(v.Usage), uint64(tex.Usage))
	}

	switch v.Aspect {
	case gputypes.TextureAspectUndefined:
		v.Aspect = gputypes.TextureAspectAll
	case gputypes.TextureAspectAll:
	case gputypes.TextureAspectDepthOnly:
		if !tex.Format.HasDepth() {
			return v, fmt.Errorf("%w: view %q: %s has no depth aspect", ErrInvalidUsage, label, tex.Format)
		}
	case gputypes.TextureAspectStencilOnly:
		if !tex.Format.HasStencil() {
			return v, fmt.Errorf("%w: view %q: %s has no stencil aspect", ErrInvalidUsage, label, tex.Format)
		}
	default:
		return v, fmt.Errorf("%w: view %q has unknown aspect %d", ErrInvalidUsage, label, v.Aspect)
	}

	layers := tex.Size.DepthOrArrayLayers
	if tex.Dimension == gputypes.TextureDimension3D {
		layers = 1
	}

	if v.Dimension == gputypes.TextureViewDimensionUndefined {
		switch tex.Dimension {
		case gputypes.TextureDimension1D:
			v.Dimension = gputypes.TextureViewDimension1D
		case gputypes.TextureDimension3D:
			v.Dimension = gputypes.TextureViewDimension3D
		default:
			if layers-min(v.BaseArrayLayer, layers) > 1 && v.ArrayLayerCount != 1 {
				v.Dimension = gputypes.TextureViewDimension2DArray
			} else {
				v.Dimension = gputypes.TextureViewDimension2D
			}
		}
	}

	if v.MipLevelCount == 0 && v.BaseMipLevel < tex.MipLevelCount {
		v.MipLevelCount = tex.MipLevelCount - v.BaseMipLevel
	}
	if v.MipLevelCount == 0 || v.BaseMipLevel >= tex.MipLevelCount || v.MipLevelCount > tex.MipLevelCount-v.BaseMipLevel {
		return v, fmt.Errorf("%w: view %q mip range [%d, %d) outside %d levels",
			ErrInvalidUsage, label, v.BaseMipLevel, uint64(v.BaseMipLevel)+uint64(v.MipLevelCount), tex.MipLevelCount)
	}

	if v.ArrayLayerCount == 0 {
		switch v.Dimension {
		case gputypes.TextureViewDimension1D, gputypes.TextureViewDimension2D, gputypes.TextureViewDimension3D:
			v.ArrayLayerCount = 1
		case gputypes.TextureViewDimensionCube:
			v.ArrayLayerCount = 6
		default:
			if v.BaseArrayLayer < layers {
				v.ArrayLayerCount = layers - v.BaseArrayLayer
			}
		}
	}
	if v.ArrayLayerCount == 0 || v.BaseArrayLayer >= layers || v.ArrayLayerCount > layers-v.BaseArrayLayer {
		return v, fmt.Errorf("%w: view %q layer range [%d, %d) outside %d layers",
			ErrInvalidUsage, label, v.BaseArrayLayer, uint64(v.BaseArrayLayer)+uint64(v.ArrayLayerCount), layers)
	}

	ok := false
	square := tex.Size.Width == tex.Size.Height
	switch v.Dimension {
	case gputypes.TextureViewDimension1D:
		ok = tex.Dimension == gputypes.TextureDimension1D
	case gputypes.TextureViewDimension2D:
		ok = tex.Dimension == gputypes.TextureDimension2D && v.ArrayLayerCount == 1
	case gputypes.TextureViewDimension2DArray:
		ok = tex.Dimension == gputypes.TextureDimension2D
	case gputypes.TextureViewDimensionCube:
		ok = tex.Dimension == gputypes.TextureDimension2D && v.ArrayLayerCount == 6 && square
	case gputypes.TextureViewDimensionCubeArray:
		ok = tex.Dimension == gputypes.TextureDimension2D && v.ArrayLayerCount%6 == 0 && square
	case gputypes.TextureViewDimension3D:
		ok = tex.Dimension == gputypes.TextureDimension3D
	}
	if !ok {
		return v, fmt.Errorf("%w: view %q dimension %s incompatible with %s texture of %d layers",
			ErrInvalidUsage, label, v.Dimension, tex.Dimension, v.ArrayLayerCount)
	}
	return v, nil
}
