// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rastercache

import (
	"github.com/handheldemu/rastercache/surface"
)

// RenderTargets tracks the color and depth/stencil surfaces
// currently bound for drawing, so that a subsequent draw call's
// InvalidateRenderTargets can mark only the rectangle it actually
// touched rather than the whole bound surface.
type RenderTargets struct {
	Color   surface.Handle
	Depth   surface.Handle
	ColorRect surface.Rect
	DepthRect surface.Rect
}

// GetFramebufferSurfaces resolves (acquiring if necessary) the
// color and depth/stencil surfaces for the requested params and
// binds them as the current render targets.
func (c *Cache) GetFramebufferSurfaces(color, depth *surface.Params) RenderTargets {
	var rt RenderTargets
	if color != nil {
		if h, ok := c.GetSurface(*color, ScaleExact, false); ok {
			rt.Color = h
			rt.ColorRect = color.Rect()
		}
	}
	if depth != nil {
		if h, ok := c.GetSurface(*depth, ScaleExact, false); ok {
			rt.Depth = h
			rt.DepthRect = depth.Rect()
		}
	}
	c.mu.Lock()
	c.targets = rt
	c.mu.Unlock()
	return rt
}

// InvalidateRenderTargets marks the currently bound render targets'
// guest-memory backing dirty, restricted to the sub-rectangle a
// draw call actually wrote (drawRect, in unscaled surface-local
// pixel coordinates). An empty drawRect invalidates the whole
// bound surface.
func (c *Cache) InvalidateRenderTargets(drawRect surface.Rect) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range [2]surface.Handle{c.targets.Color, c.targets.Depth} {
		if h == surface.Nil {
			continue
		}
		s := c.pool.Get(h)
		if s == nil {
			continue
		}
		iv := s.Interval()
		if drawRect != (surface.Rect{}) {
			sub := s.GetSubRectInterval(drawRect)
			iv = sub
		}
		c.dirty.Set(iv, h)
		s.InvalidateWatchers()
	}
}
