// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rastercache

import (
	"github.com/handheldemu/rastercache/internal/interval"
	"github.com/handheldemu/rastercache/internal/rlog"
	"github.com/handheldemu/rastercache/surface"
)

// Validate makes [addr, addr+size) valid on the surface h
// identifies, pulling bytes from another cached surface (copy),
// a registered format converter (reinterpretation), or guest
// memory (upload), in that preference order.
func (c *Cache) Validate(h surface.Handle, addr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validateLocked(h, addr, size)
}

func (c *Cache) validateLocked(h surface.Handle, addr, size uint64) {
	target := interval.Interval{Start: addr, End: addr + size}
	for {
		s := c.pool.Get(h)
		if s == nil {
			return
		}
		invalid, ok := s.InvalidRegions.First(target)
		if !ok {
			return
		}
		params := s.FromInterval(invalid)

		if cand, ok := c.findMatchLocked(&params, ScaleIgnore, MatchCopy, false, invalid); ok {
			if err := c.copySurfaceLocked(cand.handle, h, cand.matched); err == nil {
				s.InvalidRegions.Subtract(cand.matched)
				continue
			}
		}

		if c.tryReinterpretLocked(s, h, params, invalid) {
			continue
		}

		uploadIv, ok := c.nextUploadableLocked(h, invalid)
		if !ok {
			return
		}
		uploadParams := s.FromInterval(uploadIv)
		c.flushRegionLocked(uploadParams.Addr, uploadParams.Size, surface.Nil)
		if _, ok := c.mem.GetPhysicalRef(uploadParams.Addr); !ok {
			// Unbacked guest memory: the region stays invalid and
			// a later validation retries it.
			return
		}
		c.uploadSurfaceLocked(h, uploadIv)
		s.InvalidRegions.Subtract(uploadIv)
	}
}

// tryReinterpretLocked walks every registered reinterpreter whose
// dst format matches params, looking for a cached surface in the
// src format covering invalid. Returns whether it made progress.
func (c *Cache) tryReinterpretLocked(s *surface.Surface, h surface.Handle, params surface.Params, invalid interval.Interval) bool {
	found := false
	for key, fn := range c.reinterpreters {
		if key.dst != params.PixelFormat {
			continue
		}
		srcParams := params
		srcParams.PixelFormat = key.src
		srcParams.UpdateParams()
		cand, ok := c.findMatchLocked(&srcParams, ScaleIgnore, MatchCopy, false, invalid)
		if !ok {
			continue
		}
		if err := fn(c, cand.surf, s, cand.matched); err != nil {
			rlog.Error("reinterpreter failed", map[string]any{"src": key.src.String(), "dst": key.dst.String(), "err": err.Error()})
			continue
		}
		s.InvalidRegions.Subtract(cand.matched)
		found = true
		break
	}
	if !found && c.hasUnimplementedReinterpretation(params, invalid) {
		rlog.Warn("no reinterpreter registered for same-bit-width overlap", map[string]any{"addr": invalid.Start, "format": params.PixelFormat.String()})
	}
	return found
}

// hasUnimplementedReinterpretation reports whether some other
// surface of equal bit-width already occupies invalid but no
// converter into params.PixelFormat is registered for it — the
// condition that should log rather than silently upload stale
// guest bytes over GPU-produced ones.
func (c *Cache) hasUnimplementedReinterpretation(params surface.Params, invalid interval.Interval) bool {
	for _, h := range c.surfaceMap.Intersecting(invalid) {
		other := c.pool.Get(h)
		if other == nil || other.PixelFormat == params.PixelFormat {
			continue
		}
		if other.Bpp() != params.Bpp() {
			continue
		}
		if _, ok := c.reinterpreters[reinterpretKey{other.PixelFormat, params.PixelFormat}]; !ok {
			return true
		}
	}
	return false
}

// nextUploadableLocked returns the subset of invalid that is not
// currently attributed to a different surface in dirty_regions —
// bytes some other GPU write already owns should not be clobbered
// by a guest upload; they wait for that owner to flush instead.
func (c *Cache) nextUploadableLocked(owner surface.Handle, invalid interval.Interval) (interval.Interval, bool) {
	uploadable := interval.NewSet(invalid)
	for _, e := range c.dirty.Intersecting(invalid) {
		if e.Value != owner {
			uploadable.Subtract(e.Interval)
		}
	}
	return uploadable.First(invalid)
}
