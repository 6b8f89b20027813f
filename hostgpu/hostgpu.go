// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package hostgpu defines the TextureRuntime capability that the
// rasterizer cache consumes from the concrete host-GPU backend.
// It is modeled directly on driver.GPU/driver.Image's shape (the
// teacher's abstract GPU interface) but narrowed to the handful
// of operations a 2D surface cache actually issues: allocation,
// blit, clear, and staging-buffer transfer. The concrete backend
// that implements this interface (OpenGL, Vulkan, ...) is an
// external collaborator and out of scope for this module.
package hostgpu

import "errors"

// Sentinel errors. Runtime implementations should return one of
// these (wrapped with fmt.Errorf %w as needed) so that callers in
// rastercache can distinguish a capacity failure from a logic
// error and propagate it as false/error, letting the caller retry
// smaller or skip the draw.
var (
	ErrNoDeviceMemory  = errors.New("hostgpu: out of device memory")
	ErrInvalidFormat   = errors.New("hostgpu: invalid or unsupported pixel format")
	ErrInvalidSize     = errors.New("hostgpu: invalid texture dimensions")
	ErrNotImplemented  = errors.New("hostgpu: operation not implemented by this runtime")
)

// SurfaceType mirrors the kind of attachment a texture is used
// as; it changes how Blit/Clear/Read interpret the format.
type SurfaceType int

const (
	TypeColor SurfaceType = iota
	TypeDepth
	TypeDepthStencil
	TypeTexture
	TypeFill
)

// Format is an opaque pixel format tag. The rasterizer cache
// passes surface.PixelFormat values through verbatim; concrete
// runtimes translate them into their own enums.
type Format int

// Texture is an opaque handle to a host-allocated 2D or cube
// image. Its zero value denotes "no texture."
type Texture interface {
	// Width and Height return the texture's allocated
	// dimensions, already including any resolution scale.
	Width() int
	Height() int
	// Layers returns 1 for a 2D texture and 6 for a cube
	// texture (one per face).
	Layers() int
	Format() Format
}

// Rect is an unscaled or scaled rectangle in texel coordinates,
// matching the orientation the runtime expects for blits.
type Rect struct {
	Left, Top, Right, Bottom int
}

// Width returns the rectangle's width.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns the rectangle's height.
func (r Rect) Height() int { return r.Top - r.Bottom }

// BlitParam describes a texture-to-texture copy.
type BlitParam struct {
	SurfaceType        SurfaceType
	SrcLevel, DstLevel int
	SrcLayer, DstLayer int
	SrcRegion          Rect
	DstRegion          Rect
	// LinearFilter requests bilinear filtering when src and
	// dst regions differ in size (used when blitting between
	// surfaces of different resolution scales).
	LinearFilter bool
}

// ClearParam describes a clear-to-constant-value operation.
type ClearParam struct {
	SurfaceType SurfaceType
	Format      Format
	Level       int
	Layer       int
	Rect        Rect
}

// ClearValue is a 4-component clear color, depth/stencil pair,
// or raw fill pattern, format-dependent.
type ClearValue struct {
	Color        [4]float32
	Depth        float32
	Stencil      uint8
	RawBytes     []byte // used for Fill surfaces; exact byte pattern
}

// ReadParam describes a texture-to-buffer readback.
type ReadParam struct {
	BufferOffset int
	Size         int
	RowLength    int
	Height       int
	SurfaceType  SurfaceType
	Level        int
	Layer        int
	Offset       [2]int
	Extent       [2]int
}

// WriteParam describes a buffer-to-texture upload; it mirrors
// ReadParam's shape since the two are inverses of each other.
type WriteParam struct {
	BufferOffset int
	Size         int
	RowLength    int
	Height       int
	SurfaceType  SurfaceType
	Level        int
	Layer        int
	Offset       [2]int
	Extent       [2]int
}

// Staging is a host-visible buffer the runtime lends to the
// cache for CPU<->GPU transfers.
type Staging struct {
	Mapped []byte
}

// Filter is the kind of sampler filter applied to a texture.
type Filter int

const (
	FNearest Filter = iota
	FLinear
	// FNoMipmap forces mip level 0 to be used; only valid as a
	// Sampling's Mipmap filter.
	FNoMipmap
)

// AddrMode is a sampler's out-of-bounds addressing behavior.
type AddrMode int

const (
	AWrap AddrMode = iota
	AMirror
	AClamp
)

// CmpFunc is a depth-comparison sampler's comparison function.
type CmpFunc int

const (
	CNever CmpFunc = iota
	CLess
	CEqual
	CLessEqual
	CGreater
	CNotEqual
	CGreaterEqual
	CAlways
)

// Sampling describes an image sampler's filtering and addressing
// state, independent of any particular texture.
type Sampling struct {
	Min, Mag, Mipmap Filter
	AddrU, AddrV     AddrMode
	Cmp              CmpFunc
	MinLOD, MaxLOD   float32
}

// Sampler is an opaque, runtime-owned sampler object.
type Sampler interface {
	Destroy()
}

// Runtime is the TextureRuntime capability: the abstract surface
// of the concrete host-GPU backend that the rasterizer cache
// drives. All methods may be called only from the single GPU
// command thread that owns the cache — the runtime is not
// required to be multi-producer.
type Runtime interface {
	// Allocate2D allocates a 2D texture at the given scaled
	// dimensions, with the requested number of mip levels.
	Allocate2D(width, height int, format Format, levels int) (Texture, error)

	// AllocateCubeMap allocates a 6-layer cube texture.
	AllocateCubeMap(width int, format Format, levels int) (Texture, error)

	// BlitTextures issues a (possibly scaling, possibly
	// filtering) texture-to-texture copy.
	BlitTextures(src, dst Texture, p BlitParam) error

	// ClearTexture fills a sub-region of tex with clear.
	ClearTexture(tex Texture, p ClearParam, clear ClearValue) error

	// ReadTexture downloads tex's pixels into out, which must
	// be at least p.Size bytes.
	ReadTexture(tex Texture, p ReadParam, format Format, out []byte) error

	// UploadTexture writes in into tex at the given sub-region,
	// typically sourced from a Staging buffer previously filled
	// by the caller.
	UploadTexture(tex Texture, p WriteParam, format Format, in []byte) error

	// FindStaging returns a host-visible buffer of at least
	// size bytes. upload indicates whether the buffer will be
	// written by the CPU and read by the GPU (true) or the
	// reverse (false); some backends keep separate pools.
	FindStaging(size int, upload bool) (Staging, error)

	// Release returns tex to the runtime. The cache calls
	// this only when a recycled texture is finally evicted
	// from its shape-keyed bucket (rastercache's recycler),
	// never directly on Surface destruction.
	Release(tex Texture)

	// NewSampler creates a sampler matching the given state. The
	// cache pools the result by Sampling value and never creates
	// a duplicate for the same state (see rastercache.SamplerPool).
	NewSampler(s Sampling) (Sampler, error)
}
