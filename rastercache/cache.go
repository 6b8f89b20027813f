// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rastercache

import (
	"sync"

	"github.com/handheldemu/rastercache/customtex"
	"github.com/handheldemu/rastercache/hostgpu"
	"github.com/handheldemu/rastercache/internal/interval"
	"github.com/handheldemu/rastercache/internal/rlog"
	"github.com/handheldemu/rastercache/memsys"
	"github.com/handheldemu/rastercache/pagetrack"
	"github.com/handheldemu/rastercache/surface"
)

// MatchFlags is a bitset of match kinds FindMatch may try, in the
// order Exact, SubRect, Copy, Expand, TexCopy.
type MatchFlags uint8

const (
	MatchExact MatchFlags = 1 << iota
	MatchSubRect
	MatchCopy
	MatchExpand
	MatchTexCopy
)

// ScaleMatch is the resolution-scale policy FindMatch applies.
type ScaleMatch int

const (
	// ScaleExact requires the candidate's ResScale to equal the
	// request's (or the candidate to be a Fill surface, whose
	// ResScaleAny matches any request).
	ScaleExact ScaleMatch = iota
	// ScaleUpscale accepts any candidate at or above the
	// requested scale.
	ScaleUpscale
	// ScaleIgnore accepts any scale.
	ScaleIgnore
)

func scaleMatches(sm ScaleMatch, candidate, want uint32) bool {
	if candidate == surface.ResScaleAny {
		return true
	}
	switch sm {
	case ScaleExact:
		return candidate == want
	case ScaleUpscale:
		return candidate >= want
	default:
		return true
	}
}

type cubeKey struct {
	faceAddrs [6]uint64
	width     uint32
	format    surface.PixelFormat
}

type reinterpretKey struct {
	src, dst surface.PixelFormat
}

// Reinterpreter converts the bytes of a src-format surface into a
// dst-format surface occupying the same interval. The runtime
// performs the actual pixel transcode via a blit through an
// intermediate staging texture when src and dst resolution scales
// differ.
type Reinterpreter func(c *Cache, src *surface.Surface, dst *surface.Surface, iv interval.Interval) error

// Cache is the SurfaceCache: an interval-indexed store of live
// surfaces, the match-finder, and the entry points that create,
// validate, flush and invalidate them.
type Cache struct {
	mu sync.Mutex

	runtime hostgpu.Runtime
	mem     memsys.Memory
	pages   *pagetrack.Tracker

	pool       surface.Pool
	surfaceMap interval.Multimap[surface.Handle]
	dirty      interval.Map[surface.Handle]

	cubeCache   map[cubeKey]int
	cubeEntries map[int]*cubeEntry
	nextCubeID  int
	mipCache    mipChains
	recycler    *recycler
	samplers  SamplerPool
	targets   RenderTargets

	reinterpreters map[reinterpretKey]Reinterpreter
	codec          TileCodec
	customTex      *customtex.Manager

	resolutionScale uint32
	removeSet       []surface.Handle

	cfg Config
}

// New creates a Cache that issues host-texture operations against
// runtime and reads/writes guest memory through mem.
func New(runtime hostgpu.Runtime, mem memsys.Memory, cfg Config) *Cache {
	c := &Cache{
		runtime:         runtime,
		mem:             mem,
		pages:           pagetrack.New(mem),
		cubeCache:       make(map[cubeKey]int),
		cubeEntries:     make(map[int]*cubeEntry),
		recycler:        newRecycler(runtime),
		reinterpreters:  make(map[reinterpretKey]Reinterpreter),
		resolutionScale: uint32(cfg.ResolutionFactor),
		cfg:             cfg,
	}
	if c.resolutionScale == 0 {
		c.resolutionScale = 1
	}
	if (cfg.CustomTexturesEnabled || cfg.DumpTextures) && cfg.TextureFS != nil {
		mgr, err := customtex.New(cfg.TextureFS, cfg.TextureRoot, cfg.TextureDumper, customtex.Config{
			CustomTexturesEnabled: cfg.CustomTexturesEnabled,
			DumpTextures:          cfg.DumpTextures,
			CompatibilityMode:     cfg.CompatibilityMode,
			MaxWorkers:            cfg.MaxTextureWorkers,
		})
		if err != nil {
			rlog.Error("custom texture discovery failed", map[string]any{"root": cfg.TextureRoot, "err": err.Error()})
		} else {
			c.customTex = mgr
		}
	}
	return c
}

// RegisterReinterpreter installs a converter used by Validate when
// an interval's bytes exist on the host in src format but are
// needed in dst format.
func (c *Cache) RegisterReinterpreter(src, dst surface.PixelFormat, r Reinterpreter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reinterpreters[reinterpretKey{src, dst}] = r
}

// SetResolutionScale records a new cache-wide resolution scale.
// Changing it clears every cached surface, so no host texture
// created at the old scale survives. The recorded value is not
// applied by createSurfaceLocked: each surface takes its ResScale
// from the Params it is requested with.
func (c *Cache) SetResolutionScale(scale uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if scale == c.resolutionScale {
		return
	}
	c.resolutionScale = scale
	c.clearAllLocked(true)
}

// candidateMatch pairs a live surface with its handle during a scan.
type candidateMatch struct {
	handle  surface.Handle
	surf    *surface.Surface
	matched interval.Interval
}

// findMatchLocked implements FindMatch: scans every surface whose
// interval overlaps params.Interval(), applies each requested
// predicate, and returns the lexicographically best candidate
// (resolution scale, then validity, then matched-interval length).
// validateIv is only consulted for MatchCopy.
func (c *Cache) findMatchLocked(params *surface.Params, sm ScaleMatch, flags MatchFlags, acceptInvalid bool, validateIv interval.Interval) (candidateMatch, bool) {
	var best candidateMatch
	haveBest := false

	handles := c.surfaceMap.Intersecting(params.Interval())
	for _, h := range handles {
		s := c.pool.Get(h)
		if s == nil {
			continue
		}
		if !scaleMatches(sm, s.ResScale, params.ResScale) {
			continue
		}
		valid := s.InvalidRegions.Empty()
		if !acceptInvalid && !valid {
			continue
		}

		var matched interval.Interval
		var ok bool
		switch {
		case flags&MatchExact != 0 && s.ExactMatch(params):
			matched, ok = params.Interval(), true
		case flags&MatchSubRect != 0 && s.CanSubRect(params):
			matched, ok = params.Interval(), true
		case flags&MatchCopy != 0 && s.CanCopy(params):
			clipped, within := interval.Intersect(validateIv, s.Interval())
			if within && !clipped.Empty() {
				matched, ok = clipped, true
			}
		case flags&MatchExpand != 0 && s.CanExpand(params):
			matched, ok = params.Interval(), true
		case flags&MatchTexCopy != 0 && s.CanTexCopy(params):
			matched, ok = params.Interval(), true
		}
		if !ok {
			continue
		}

		cand := candidateMatch{handle: h, surf: s, matched: matched}
		if !haveBest || better(cand, best) {
			best, haveBest = cand, true
		}
	}
	return best, haveBest
}

// better reports whether a outranks b under FindMatch's
// lexicographic rule: higher res_scale wins, then validity, then
// longer matched interval. Ties keep the first-seen candidate.
func better(a, b candidateMatch) bool {
	if a.surf.ResScale != b.surf.ResScale {
		return a.surf.ResScale > b.surf.ResScale
	}
	av, bv := a.surf.InvalidRegions.Empty(), b.surf.InvalidRegions.Empty()
	if av != bv {
		return av
	}
	return a.matched.Len() > b.matched.Len()
}

// GetSurface acquires (creating if necessary) a surface matching
// info, optionally validating the full requested interval before
// returning.
func (c *Cache) GetSurface(info surface.Params, sm ScaleMatch, loadIfCreate bool) (surface.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if info.Addr == 0 || info.Width == 0 || info.Height == 0 {
		return surface.Nil, false
	}
	if info.Width != info.Stride {
		rlog.Critical("GetSurface requires width == stride", map[string]any{"addr": info.Addr, "width": info.Width, "stride": info.Stride})
		return surface.Nil, false
	}
	if info.IsTiled && (info.Width%8 != 0 || info.Height%8 != 0) {
		rlog.Critical("tiled surface not 8-aligned", map[string]any{"addr": info.Addr, "width": info.Width, "height": info.Height})
		return surface.Nil, false
	}

	if cand, ok := c.findMatchLocked(&info, sm, MatchExact, true, interval.Interval{}); ok {
		if loadIfCreate {
			c.validateLocked(cand.handle, info.Addr, info.Size)
		}
		return cand.handle, true
	}

	if sm != ScaleExact {
		if cand, ok := c.findMatchLocked(&info, ScaleUpscale, MatchExpand, true, interval.Interval{}); ok {
			info.ResScale = cand.surf.ResScale
		} else if info.PixelFormat == surface.RGBA8 {
			d24s8 := info
			d24s8.PixelFormat = surface.D24S8
			d24s8.UpdateParams()
			if cand, ok := c.findMatchLocked(&d24s8, ScaleUpscale, MatchExpand, true, interval.Interval{}); ok {
				info.ResScale = cand.surf.ResScale
			}
		}
	}

	h := c.createSurfaceLocked(info)
	if loadIfCreate {
		c.validateLocked(h, info.Addr, info.Size)
	}
	return h, true
}

// GetSurfaceSubRect acquires a surface covering a sub-rectangle of
// a larger guest buffer, preferring an existing wider surface over
// allocating a new one at the narrower extent.
func (c *Cache) GetSurfaceSubRect(info surface.Params, sm ScaleMatch, loadIfCreate bool) (surface.Handle, bool) {
	c.mu.Lock()

	if cand, ok := c.findMatchLocked(&info, sm, MatchSubRect, true, interval.Interval{}); ok {
		h := cand.handle
		if loadIfCreate {
			c.validateLocked(h, info.Addr, info.Size)
		}
		c.mu.Unlock()
		return h, true
	}
	if cand, ok := c.findMatchLocked(&info, ScaleIgnore, MatchSubRect, true, interval.Interval{}); ok {
		// FindMatch failed only because of resolution scale: create
		// a new surface with the candidate's geometry (which already
		// satisfies width == stride) but the caller's requested
		// scale rather than settling for the lower-scale surface,
		// which stays registered.
		scaled := cand.surf.Params
		scaled.ResScale = info.ResScale
		c.mu.Unlock()
		return c.GetSurface(scaled, ScaleExact, loadIfCreate)
	}
	if cand, ok := c.findMatchLocked(&info, sm, MatchExpand, true, interval.Interval{}); ok {
		merged := cand.surf.Params
		if info.Addr < merged.Addr {
			merged.Addr = info.Addr
		}
		if info.End > merged.End {
			merged.End = info.End
		}
		merged.Width = merged.PixelsInBytes(uint32(merged.End - merged.Addr))
		merged.Stride = merged.Width
		merged.UpdateParams()

		oldHandle := cand.handle
		c.mu.Unlock()
		newHandle, ok := c.GetSurface(merged, ScaleExact, false)
		if !ok {
			return surface.Nil, false
		}
		c.mu.Lock()
		c.duplicateSurfaceLocked(oldHandle, newHandle)
		if old := c.pool.Get(oldHandle); old != nil {
			old.InvalidateWatchers()
		}
		c.removeSet = append(c.removeSet, oldHandle)
		c.mu.Unlock()
		if loadIfCreate {
			c.mu.Lock()
			c.validateLocked(newHandle, info.Addr, info.Size)
			c.mu.Unlock()
		}
		return newHandle, true
	}

	c.mu.Unlock()
	full := info
	full.Stride = full.Width
	return c.GetSurface(full, sm, loadIfCreate)
}

// GetFillSurface registers a Fill-type surface spanning [addr, end)
// that repeats fillData[0:fillSize] — a guest GPU memory-fill
// target with no host texture of its own. It bypasses createSurfaceLocked
// entirely: Type is set directly rather than derived from a
// PixelFormat (a Fill surface has none), and ResScale is
// ResScaleAny so it matches a request at any resolution scale.
// Other surfaces later resolve it as a MatchCopy source (see
// Surface.CanFill), writing the repeating pattern into their own
// host texture on demand.
func (c *Cache) GetFillSurface(addr, end uint64, fillData [4]byte, fillSize uint32) surface.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	params := surface.Params{
		Addr:        addr,
		End:         end,
		Size:        end - addr,
		PixelFormat: surface.Invalid,
		Type:        surface.TypeFill,
		ResScale:    surface.ResScaleAny,
	}
	s := surface.Surface{Params: params, Registered: true}
	s.FillData = fillData
	s.FillSize = fillSize

	h := c.pool.Insert(s)
	c.surfaceMap.Add(params.Interval(), h)
	c.pages.Update(params.Addr, params.Size, 1)
	return h
}

// createSurfaceLocked allocates a new, entirely-invalid Surface
// for info and registers it in surfaceMap.
func (c *Cache) createSurfaceLocked(info surface.Params) surface.Handle {
	info.UpdateParams()
	s := surface.Surface{Params: info, Registered: true}
	s.InvalidRegions.Add(info.Interval())

	if info.Type != surface.TypeFill {
		key := shapeKey{format: hostgpu.Format(info.PixelFormat), width: int(info.ScaledWidth()), height: int(info.ScaledHeight())}
		if tex, ok := c.recycler.take(key); ok {
			s.Host = surface.HostTexture{Texture: tex, Valid: true}
		} else if tex, err := c.runtime.Allocate2D(int(info.ScaledWidth()), int(info.ScaledHeight()), hostgpu.Format(info.PixelFormat), int(info.Levels)); err == nil {
			s.Host = surface.HostTexture{Texture: tex, Valid: true}
		} else {
			rlog.Error("failed to allocate host texture", map[string]any{"addr": info.Addr, "err": err.Error()})
		}
	}

	h := c.pool.Insert(s)
	c.surfaceMap.Add(info.Interval(), h)
	c.pages.Update(info.Addr, info.Size, 1)
	return h
}

// unregisterLocked removes h from every index without attempting
// a rescue; callers that need the rescue behavior go through
// processRemovalsLocked instead.
func (c *Cache) unregisterLocked(h surface.Handle) {
	s := c.pool.Get(h)
	if s == nil {
		return
	}
	c.surfaceMap.Remove(h)
	if s.Host.Valid {
		key := shapeKey{format: hostgpu.Format(s.PixelFormat), width: int(s.ScaledWidth()), height: int(s.ScaledHeight())}
		c.recycler.put(key, s.Host.Texture)
	}
	s.Registered = false
	c.pages.Update(s.Addr, s.Size, -1)
	c.pool.Remove(h)
}

// ClearAll flushes every dirty region (when flush is true) and
// then unregisters every live surface, releasing host textures to
// the recycler.
func (c *Cache) ClearAll(flush bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearAllLocked(flush)
}

func (c *Cache) clearAllLocked(flush bool) {
	if flush {
		c.flushRegionLocked(0, 0xFFFFFFFF, surface.Nil)
	}
	for _, h := range c.surfaceMap.Intersecting(interval.Interval{Start: 0, End: ^uint64(0)}) {
		c.unregisterLocked(h)
	}
	c.dirty.Clear()
	c.cubeCache = make(map[cubeKey]int)
	c.cubeEntries = make(map[int]*cubeEntry)
	c.mipCache = make(mipChains)
}

// FlushAll flushes every dirty region back to guest memory
// unconditionally, without unregistering any surface.
func (c *Cache) FlushAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushRegionLocked(0, 0xFFFFFFFF, surface.Nil)
}
