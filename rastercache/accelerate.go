// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rastercache

import (
	"github.com/handheldemu/rastercache/internal/interval"
	"github.com/handheldemu/rastercache/surface"
)

// AccelerateTextureCopy attempts to satisfy a guest texture-copy
// display transfer entirely on the host GPU: it resolves a source
// surface via MatchTexCopy and copies directly into dst's surface,
// avoiding a guest-memory round trip. false means the caller must
// fall back to a guest-side software copy.
func (c *Cache) AccelerateTextureCopy(src, dst surface.Params) bool {
	dstHandle, ok := c.GetSurface(dst, ScaleIgnore, false)
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cand, ok := c.findMatchLocked(&src, ScaleIgnore, MatchTexCopy, false, interval.Interval{})
	if !ok {
		return false
	}
	return c.copySurfaceLocked(cand.handle, dstHandle, dst.Interval()) == nil
}

// AccelerateDisplayTransfer attempts a host-side blit satisfying a
// guest display-transfer configuration (framebuffer to framebuffer,
// with optional scaling/flip already baked into srcRect/dstRect).
// false means the caller must fall back to a guest-side transfer.
func (c *Cache) AccelerateDisplayTransfer(src, dst surface.Params, srcRect, dstRect surface.Rect, linearFilter bool) bool {
	srcHandle, ok := c.GetSurface(src, ScaleIgnore, true)
	if !ok {
		return false
	}
	dstHandle, ok := c.GetSurface(dst, ScaleIgnore, false)
	if !ok {
		return false
	}
	return c.BlitSurfaces(srcHandle, dstHandle, srcRect, dstRect, linearFilter) == nil
}

// AccelerateFill registers a Fill-type surface over params' range
// carrying the given fill pattern, used by guest memory-fill
// display-transfer requests. It never touches an existing host
// texture directly; a later GetSurface/Validate against the same
// range resolves the Fill surface as a copy source and writes the
// repeating pattern into the requesting surface's own texture.
func (c *Cache) AccelerateFill(params surface.Params, fillData [4]byte, fillSize uint32) bool {
	if params.Addr == 0 || params.End <= params.Addr {
		return false
	}
	c.GetFillSurface(params.Addr, params.End, fillData, fillSize)
	return true
}
