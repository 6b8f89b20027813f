// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package surface implements SurfaceParams and Surface: the pure
// geometric description of a guest-memory region interpreted as
// a 2D image, and the cached image itself.
package surface

import (
	"math"

	"github.com/handheldemu/rastercache/internal/interval"
)

// ResScaleAny is the sentinel resolution-scale value meaning
// "matches any scale" — only valid on Fill surfaces, which have
// no host texture of their own to be scaled.
const ResScaleAny = math.MaxUint16

// Rect is an unscaled rectangle in guest pixel coordinates,
// bottom-to-top like the guest GPU's native orientation (origin
// at the bottom-left, "top" numerically greater than "bottom").
type Rect struct {
	Left, Top, Right, Bottom uint32
}

// Width returns the rectangle's width in pixels.
func (r Rect) Width() uint32 { return r.Right - r.Left }

// Height returns the rectangle's height in pixels.
func (r Rect) Height() uint32 { return r.Top - r.Bottom }

// Params is the immutable-after-construction descriptor of a
// guest-memory region interpreted as a 2D image (SurfaceParams).
type Params struct {
	Addr, End uint64
	Size      uint64

	Width, Height, Stride uint32
	PixelFormat           PixelFormat
	Type                  Type
	IsTiled               bool
	ResScale              uint32
	Levels                uint32
}

// Interval returns the guest byte range [Addr, End).
func (p *Params) Interval() interval.Interval {
	return interval.Interval{Start: p.Addr, End: p.End}
}

// Bpp returns bits-per-pixel for p's format.
func (p *Params) Bpp() uint32 { return p.PixelFormat.Bpp() }

// BytesInPixels converts a pixel count to a byte count at p's bpp.
func (p *Params) BytesInPixels(pixels uint32) uint32 {
	return pixels * p.Bpp() / 8
}

// PixelsInBytes converts a byte count to a pixel count at p's bpp.
func (p *Params) PixelsInBytes(bytes uint32) uint32 {
	return bytes * 8 / p.Bpp()
}

// ScaledWidth returns Width*ResScale.
func (p *Params) ScaledWidth() uint32 { return p.Width * p.ResScale }

// ScaledHeight returns Height*ResScale.
func (p *Params) ScaledHeight() uint32 { return p.Height * p.ResScale }

// Rect returns the unscaled rectangle spanning the whole surface.
func (p *Params) Rect() Rect { return Rect{0, p.Height, p.Width, 0} }

// ScaledRect returns the host-resolution rectangle spanning the
// whole surface.
func (p *Params) ScaledRect() Rect {
	return Rect{0, p.ScaledHeight(), p.ScaledWidth(), 0}
}

// UpdateParams recomputes Stride, Type, Size and End from Addr,
// Width, Height and PixelFormat — the constructor-time invariant
// enforcement step.
func (p *Params) UpdateParams() {
	if p.Stride == 0 {
		p.Stride = p.Width
	}
	p.Type = p.PixelFormat.FormatType()
	tileRows := uint32(1)
	if p.IsTiled {
		tileRows = 8
	}
	var pixels uint32
	if !p.IsTiled {
		pixels = p.Stride*(p.Height-1) + p.Width
	} else {
		pixels = p.Stride*8*(p.Height/8-1) + p.Width*8
	}
	_ = tileRows
	p.Size = uint64(p.BytesInPixels(pixels))
	p.End = p.Addr + p.Size
}

// ExactMatch reports whether o describes exactly the same
// region, format and layout as p.
func (p *Params) ExactMatch(o *Params) bool {
	return p.PixelFormat != Invalid &&
		p.Addr == o.Addr &&
		p.Width == o.Width &&
		p.Height == o.Height &&
		p.Stride == o.Stride &&
		p.PixelFormat == o.PixelFormat &&
		p.IsTiled == o.IsTiled &&
		p.Levels == o.Levels
}

// CanSubRect reports whether sub lies fully within p's extent as
// a valid sub-rectangle.
func (p *Params) CanSubRect(sub *Params) bool {
	if p.PixelFormat == Invalid || sub.addrOutOfBounds(p) {
		return false
	}
	if sub.PixelFormat != p.PixelFormat || sub.IsTiled != p.IsTiled {
		return false
	}
	tileAlign := p.BytesInPixels(tiledMul(p.IsTiled, 64, 1))
	if tileAlign == 0 || (sub.Addr-p.Addr)%uint64(tileAlign) != 0 {
		return false
	}
	rowLimit := uint32(1)
	if p.IsTiled {
		rowLimit = 8
	}
	if sub.Stride != p.Stride && sub.Height > rowLimit {
		return false
	}
	return p.GetSubRect(sub).Right <= p.Stride
}

func (sub *Params) addrOutOfBounds(p *Params) bool {
	return sub.Addr < p.Addr || sub.End > p.End
}

// CanExpand reports whether p and e describe adjoining or
// overlapping regions of the same format/tiling/stride that can
// be unified into a single wider surface.
func (p *Params) CanExpand(e *Params) bool {
	if p.PixelFormat == Invalid || p.PixelFormat != e.PixelFormat {
		return false
	}
	if p.Addr > e.End || e.Addr > p.End {
		return false
	}
	if p.IsTiled != e.IsTiled || p.Stride != e.Stride {
		return false
	}
	rowBytes := p.BytesInPixels(p.Stride * tiledMul(p.IsTiled, 8, 1))
	if rowBytes == 0 {
		return false
	}
	diff := e.Addr
	if p.Addr > diff {
		diff = p.Addr
	}
	lo := e.Addr
	if p.Addr < lo {
		lo = p.Addr
	}
	return (diff-lo)%uint64(rowBytes) == 0
}

// CanTexCopy reports whether p (a cached surface) can satisfy a
// guest "texture copy" display transfer described by t (spec
// §4.1).
func (p *Params) CanTexCopy(t *Params) bool {
	if p.PixelFormat == Invalid || p.Addr > t.Addr || p.End < t.End {
		return false
	}
	if t.Width != t.Stride {
		tileStride := p.BytesInPixels(p.Stride * tiledMul(p.IsTiled, 8, 1))
		tileAlign := p.BytesInPixels(tiledMul(p.IsTiled, 64, 1))
		if tileAlign == 0 || tileStride == 0 {
			return false
		}
		if (t.Addr-p.Addr)%uint64(tileAlign) != 0 {
			return false
		}
		if t.Width%tileAlign != 0 {
			return false
		}
		if t.Height != 1 && t.Stride != tileStride {
			return false
		}
		off := uint32((t.Addr - p.Addr) % uint64(tileStride))
		return off+t.Width <= tileStride
	}
	from := p.FromInterval(t.Interval())
	return from.Interval() == t.Interval()
}

// tiledMul returns tiled when isTiled, otherwise untiled. A
// small helper so the *.cpp-derived arithmetic above reads the
// same shape as the original (BytesInPixels(is_tiled ? x : y)).
func tiledMul(isTiled bool, tiled, untiled uint32) uint32 {
	if isTiled {
		return tiled
	}
	return untiled
}

func alignDown(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return v - v%align
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	if r := v % align; r != 0 {
		return v + (align - r)
	}
	return v
}

// FromInterval constructs the smallest Params of the same format
// as p that covers the aligned extent of iv. A
// single-row result collapses to a 1-row surface whose
// width/stride equal the row's pixel count.
func (p *Params) FromInterval(iv interval.Interval) Params {
	out := *p
	tiled := tiledMul(p.IsTiled, 8, 1)
	strideTiledBytes := uint64(p.BytesInPixels(p.Stride * tiled))

	alignedStart := p.Addr + alignDown(iv.Start-p.Addr, strideTiledBytes)
	alignedEnd := p.Addr + alignUp(iv.End-p.Addr, strideTiledBytes)

	if alignedEnd-alignedStart > strideTiledBytes {
		out.Addr = alignedStart
		out.Height = uint32(alignedEnd-alignedStart) / p.BytesInPixels(p.Stride)
	} else {
		tiledAlign := uint64(p.BytesInPixels(tiledMul(p.IsTiled, 64, 1)))
		alignedStart = p.Addr + alignDown(iv.Start-p.Addr, tiledAlign)
		alignedEnd = p.Addr + alignUp(iv.End-p.Addr, tiledAlign)

		out.Addr = alignedStart
		out.Width = p.PixelsInBytes(uint32(alignedEnd-alignedStart)) / tiled
		out.Stride = out.Width
		out.Height = tiled
	}
	out.UpdateParams()
	// UpdateParams recomputes End from Addr/Size using out's own
	// Width/Height/Stride, which is what we just derived; Addr
	// must be preserved exactly (UpdateParams doesn't touch it).
	out.Addr = alignedStart
	out.End = out.Addr + out.Size
	return out
}

// GetSubRect returns the unscaled rectangle within p that sub
// occupies.
func (p *Params) GetSubRect(sub *Params) Rect {
	beginPixel := p.PixelsInBytes(uint32(sub.Addr - p.Addr))
	if p.IsTiled {
		x0 := (beginPixel % (p.Stride * 8)) / 8
		y0 := (beginPixel / (p.Stride * 8)) * 8
		return Rect{x0, p.Height - y0, x0 + sub.Width, p.Height - (y0 + sub.Height)}
	}
	x0 := beginPixel % p.Stride
	y0 := beginPixel / p.Stride
	return Rect{x0, y0 + sub.Height, x0 + sub.Width, y0}
}

// GetScaledSubRect is GetSubRect scaled to host resolution.
func (p *Params) GetScaledSubRect(sub *Params) Rect {
	r := p.GetSubRect(sub)
	s := p.ResScale
	return Rect{r.Left * s, r.Top * s, r.Right * s, r.Bottom * s}
}

// GetSubRectInterval is the inverse of GetSubRect: it returns the
// guest byte interval corresponding to an unscaled rectangle
//, rounding tiled coordinates to 8-pixel multiples.
func (p *Params) GetSubRectInterval(r Rect) interval.Interval {
	if r.Height() == 0 || r.Width() == 0 {
		return interval.Interval{}
	}
	if p.IsTiled {
		r.Left = alignDownU32(r.Left, 8) * 8
		r.Bottom = alignDownU32(r.Bottom, 8) / 8
		r.Right = alignUpU32(r.Right, 8) * 8
		r.Top = alignUpU32(r.Top, 8) / 8
	}
	strideTiled := p.Stride
	if p.IsTiled {
		strideTiled = p.Stride * 8
	}
	pixels := (r.Height()-1)*strideTiled + r.Width()
	var pixelOffset uint32
	if !p.IsTiled {
		pixelOffset = strideTiled*r.Bottom + r.Left
	} else {
		pixelOffset = strideTiled*((p.Height/8)-r.Top) + r.Left
	}
	return interval.Interval{
		Start: p.Addr + uint64(p.BytesInPixels(pixelOffset)),
		End:   p.Addr + uint64(p.BytesInPixels(pixelOffset+pixels)),
	}
}

func alignDownU32(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	return v - v%align
}

func alignUpU32(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	if r := v % align; r != 0 {
		return v + (align - r)
	}
	return v
}
