// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rastercache

import (
	"github.com/handheldemu/rastercache/internal/interval"
	"github.com/handheldemu/rastercache/internal/rlog"
	"github.com/handheldemu/rastercache/surface"
)

// smallWriteThreshold is the "CPU poll" heuristic size: requests
// at or below this many bytes are assumed to be a guest CPU
// reading or writing a small, frequently-touched field, so the
// whole matched interval is flushed/removed rather than just the
// requested bytes — games tend to poll the same region again
// immediately afterward.
const smallWriteThreshold = 8

// FlushRegion writes dirty host contents covering [addr, addr+size)
// back to guest memory.
func (c *Cache) FlushRegion(addr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushRegionLocked(addr, size, surface.Nil)
}

func (c *Cache) flushRegionLocked(addr, size uint64, _ surface.Handle) {
	target := interval.Interval{Start: addr, End: addr + size}

	for {
		entries := c.dirty.Intersecting(target)
		if len(entries) == 0 {
			return
		}
		e := entries[0]
		flushIv := e.Interval
		if size <= smallWriteThreshold {
			// Widen the clipped match to the whole dirty entry it
			// came from.
			for _, whole := range c.dirty.Intersecting(interval.Interval{Start: 0, End: ^uint64(0)}) {
				if whole.Value == e.Value && whole.Interval.Contains(flushIv) {
					flushIv = whole.Interval
					break
				}
			}
		}
		owner := c.pool.Get(e.Value)
		if owner == nil {
			c.dirty.Erase(e.Interval)
			continue
		}
		copyable := owner.CopyableInterval()
		if !copyable.Contains(flushIv) {
			rlog.Critical("flush target not valid on its dirty-region owner", map[string]any{"addr": flushIv.Start, "end": flushIv.End})
			c.dirty.Erase(flushIv)
			continue
		}
		c.downloadSurfaceLocked(e.Value, flushIv)
		c.dirty.Erase(flushIv)
	}
}

// InvalidateRegion marks [addr, addr+size) as overwritten, either
// by a named owner surface (a GPU write) or by the guest CPU
// (owner == surface.Nil). Every other cached surface overlapping
// the range either gets the range flushed-and-removed (a small
// CPU write) or added to its invalid_regions.
func (c *Cache) InvalidateRegion(addr, size uint64, owner surface.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateRegionLocked(addr, size, owner)
}

func (c *Cache) invalidateRegionLocked(addr, size uint64, owner surface.Handle) {
	target := interval.Interval{Start: addr, End: addr + size}
	small := size <= smallWriteThreshold

	if owner != surface.Nil {
		if s := c.pool.Get(owner); s != nil {
			s.InvalidRegions.Subtract(target)
		}
	}

	var toRemove []surface.Handle
	for _, h := range c.surfaceMap.Intersecting(target) {
		if h == owner {
			continue
		}
		s := c.pool.Get(h)
		if s == nil {
			continue
		}
		if owner == surface.Nil && small {
			c.flushRegionLocked(s.Addr, s.Size, surface.Nil)
			toRemove = append(toRemove, h)
			continue
		}
		s.InvalidRegions.Add(target)
		s.InvalidateWatchers()
		if s.InvalidRegions.Contains(s.Interval()) {
			toRemove = append(toRemove, h)
		}
	}

	if owner != surface.Nil {
		c.dirty.Set(target, owner)
	} else {
		c.dirty.Erase(target)
	}

	c.removeSet = append(c.removeSet, toRemove...)
	c.processRemovalsLocked(owner)
}

// processRemovalsLocked unregisters every surface queued in
// removeSet. If one of them is the current invalidation's owner,
// its still-valid content is rescued into an enclosing surface
// before it is dropped — but only when doing so cannot lose
// information the enclosing surface doesn't already have.
func (c *Cache) processRemovalsLocked(owner surface.Handle) {
	pending := c.removeSet
	c.removeSet = nil

	for _, h := range pending {
		if h != owner {
			c.unregisterLocked(h)
			continue
		}
		s := c.pool.Get(h)
		if s == nil {
			continue
		}
		if enclosing, ok := c.findMatchLocked(&s.Params, ScaleIgnore, MatchSubRect, true, interval.Interval{}); ok {
			encSurf := c.pool.Get(enclosing.handle)
			if encSurf != nil && s.InvalidRegions.SubsetOf(&encSurf.InvalidRegions) {
				c.duplicateSurfaceLocked(h, enclosing.handle)
			}
		}
		c.unregisterLocked(h)
	}
}
