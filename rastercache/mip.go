// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rastercache

import (
	"github.com/handheldemu/rastercache/hostgpu"
	"github.com/handheldemu/rastercache/internal/rlog"
	"github.com/handheldemu/rastercache/surface"
)

// mipChain tracks the derived per-level surfaces of a mipmapped
// base surface: level i's Params (half the previous level's
// width/height, offset by the previous levels' combined byte
// size) and a watcher onto its cached surface.
type mipChain struct {
	base     surface.Handle
	levels   []surface.Params
	watchers []surface.Watcher
}

// mipChains is keyed by base surface handle; entries are rebuilt
// whenever the base surface itself is recreated (a new handle).
type mipChains = map[surface.Handle]*mipChain

// buildMipParams derives params for levels 1..maxLevel from base,
// halving width/height and advancing addr by each preceding
// level's byte size.
func buildMipParams(base surface.Params, maxLevel uint32) []surface.Params {
	levels := make([]surface.Params, 0, maxLevel)
	p := base
	addr := base.Addr + uint64(base.Size)
	for lvl := uint32(1); lvl <= maxLevel; lvl++ {
		if p.Width <= 1 || p.Height <= 1 {
			break
		}
		p.Width /= 2
		p.Height /= 2
		p.Stride = p.Width
		p.Addr = addr
		p.UpdateParams()
		levels = append(levels, p)
		addr += uint64(p.Size)
	}
	return levels
}

// EnsureMipChain validates and blits every derived mip level of
// base into its host texture's mip layers, creating level surfaces
// on demand. maxLevel bounds how many levels are derived (clamped
// to surface.MaxLevels-1).
func (c *Cache) EnsureMipChain(base surface.Handle, maxLevel uint32) {
	if maxLevel >= surface.MaxLevels {
		maxLevel = surface.MaxLevels - 1
	}

	// Phase 1, locked: decide which levels are stale and snapshot
	// their Params. GetSurface below is self-locking, so it cannot
	// be called while c.mu is held.
	c.mu.Lock()
	baseSurf := c.pool.Get(base)
	if baseSurf == nil || !baseSurf.Host.Valid {
		c.mu.Unlock()
		return
	}
	if c.mipCache == nil {
		c.mipCache = make(mipChains)
	}
	mc, ok := c.mipCache[base]
	if !ok || uint32(len(mc.levels)) != maxLevel {
		mc = &mipChain{
			base:     base,
			levels:   buildMipParams(baseSurf.Params, maxLevel),
			watchers: make([]surface.Watcher, maxLevel),
		}
		c.mipCache[base] = mc
	}
	var staleIdx []int
	var staleParams []surface.Params
	for i, lvlParams := range mc.levels {
		if _, valid := mc.watchers[i].Get(); valid {
			continue
		}
		staleIdx = append(staleIdx, i)
		staleParams = append(staleParams, lvlParams)
	}
	c.mu.Unlock()

	// Phase 2, unlocked: resolve each stale level's surface handle.
	staleHandles := make([]surface.Handle, len(staleParams))
	for i, p := range staleParams {
		h, ok := c.GetSurface(p, ScaleExact, false)
		if !ok {
			staleHandles[i] = surface.Nil
			continue
		}
		staleHandles[i] = h
	}

	// Phase 3, locked: validate, blit and record the new watcher
	// for each level that resolved to a live handle.
	c.mu.Lock()
	defer c.mu.Unlock()
	baseSurf = c.pool.Get(base)
	if baseSurf == nil || !baseSurf.Host.Valid {
		return
	}
	for n, i := range staleIdx {
		h := staleHandles[n]
		if h == surface.Nil {
			continue
		}
		lvlParams := staleParams[n]
		c.validateLocked(h, lvlParams.Addr, lvlParams.Size)
		mc.watchers[i] = *c.pool.Watch(h)

		lvlSurf := c.pool.Get(h)
		if lvlSurf == nil || !lvlSurf.Host.Valid {
			continue
		}
		err := c.runtime.BlitTextures(lvlSurf.Host.Texture, baseSurf.Host.Texture, hostgpu.BlitParam{
			SurfaceType: surfaceTypeOf(baseSurf.Type),
			DstLevel:    i + 1,
			SrcRegion:   hostgpu.Rect{Right: int(lvlSurf.ScaledWidth()), Top: int(lvlSurf.ScaledHeight())},
			DstRegion:   hostgpu.Rect{Right: int(lvlSurf.ScaledWidth()), Top: int(lvlSurf.ScaledHeight())},
		})
		if err != nil {
			rlog.Error("mip level blit failed", map[string]any{"level": i + 1, "err": err.Error()})
			continue
		}
		if uint32(i+1) > baseSurf.MaxLevel {
			baseSurf.MaxLevel = uint32(i + 1)
		}
	}
}
