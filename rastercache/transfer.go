// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rastercache

import (
	"github.com/handheldemu/rastercache/customtex"
	"github.com/handheldemu/rastercache/hostgpu"
	"github.com/handheldemu/rastercache/internal/interval"
	"github.com/handheldemu/rastercache/internal/rlog"
	"github.com/handheldemu/rastercache/surface"
)

// uploadSurfaceLocked fetches guest bytes covering iv and writes
// them into h's host texture, unswizzling first if the surface is
// tiled. Fill surfaces take the repeating-pattern fast path
// instead of touching guest memory at all.
func (c *Cache) uploadSurfaceLocked(h surface.Handle, iv interval.Interval) {
	s := c.pool.Get(h)
	if s == nil {
		return
	}
	if s.Type == surface.TypeFill {
		c.uploadFillLocked(s, s, iv)
		return
	}
	if !s.Host.Valid {
		return
	}
	sub := s.FromInterval(iv)

	ref, ok := c.mem.GetPhysicalRef(sub.Addr)
	if !ok {
		// Silently returns: invalid regions are left as-is and
		// retried on the next validation pass.
		return
	}
	n := int(sub.Size)
	if ref.Remaining < n {
		n = ref.Remaining
	}
	if n <= 0 {
		return
	}
	guest := ref.Bytes[:n]

	if c.customTex != nil {
		if rgba, _, ok := c.customTex.Lookup(guest, nil); ok {
			c.uploadReplacementLocked(s, &sub, rgba)
			return
		}
		if c.cfg.DumpTextures {
			c.customTex.DumpIfNew(guest, int(sub.Width), int(sub.Height), customtex.Format(s.PixelFormat))
		}
	}

	staging, err := c.runtime.FindStaging(len(guest), true)
	if err != nil {
		rlog.Error("upload: no staging buffer available", map[string]any{"addr": sub.Addr, "size": len(guest), "err": err.Error()})
		return
	}

	linear := guest
	if sub.IsTiled {
		if c.codec != nil {
			linear = c.codec.Unswizzle(guest, int(sub.Width), int(sub.Height), sub.Bpp())
		} else {
			rlog.Warn("no tile codec registered; uploading tiled bytes unswizzled", map[string]any{"addr": sub.Addr})
		}
	}
	copy(staging.Mapped, linear)

	rect := s.GetScaledSubRect(&sub)
	surfType := surfaceTypeOf(s.Type)
	err = c.runtime.UploadTexture(s.Host.Texture, hostgpu.WriteParam{
		Size:        len(linear),
		SurfaceType: surfType,
		Offset:      [2]int{int(rect.Left), int(rect.Bottom)},
		Extent:      [2]int{int(rect.Width()), int(rect.Height())},
	}, hostgpu.Format(s.PixelFormat), staging.Mapped[:len(linear)])
	if err != nil {
		rlog.Error("upload: UploadTexture failed", map[string]any{"addr": sub.Addr, "err": err.Error()})
	}
}

// uploadReplacementLocked uploads a decoded custom-texture
// replacement in place of guest bytes. Replacements always arrive
// as tightly packed RGBA8 at sub's unscaled dimensions, already in
// row-major order, so no tile unswizzle is needed regardless of
// whether the surface itself is tiled.
func (c *Cache) uploadReplacementLocked(s *surface.Surface, sub *surface.Params, rgba []byte) {
	staging, err := c.runtime.FindStaging(len(rgba), true)
	if err != nil {
		rlog.Error("upload: no staging buffer available for custom texture", map[string]any{"addr": sub.Addr, "err": err.Error()})
		return
	}
	copy(staging.Mapped, rgba)

	rect := s.GetScaledSubRect(sub)
	err = c.runtime.UploadTexture(s.Host.Texture, hostgpu.WriteParam{
		Size:        len(rgba),
		SurfaceType: surfaceTypeOf(s.Type),
		Offset:      [2]int{int(rect.Left), int(rect.Bottom)},
		Extent:      [2]int{int(rect.Width()), int(rect.Height())},
	}, hostgpu.Format(surface.RGBA8), staging.Mapped[:len(rgba)])
	if err != nil {
		rlog.Error("upload: UploadTexture failed for custom texture", map[string]any{"addr": sub.Addr, "err": err.Error()})
	}
}

// uploadFillLocked repeats fill's fill_data[0:fill_size] across iv
// and clears that part of dst's host texture with it. The pattern
// is anchored at fill's start address, so an iv that begins
// mid-pattern continues from the matching byte.
func (c *Cache) uploadFillLocked(fill, dst *surface.Surface, iv interval.Interval) {
	if fill.FillSize == 0 {
		return
	}
	offset := (iv.Start - fill.Addr) % uint64(fill.FillSize)
	n := int(iv.Len())
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		buf[i] = fill.FillData[(uint64(offset)+uint64(i))%uint64(fill.FillSize)]
	}
	if !dst.Host.Valid {
		return
	}
	sub := dst.FromInterval(iv)
	rect := dst.GetScaledSubRect(&sub)
	_ = c.runtime.ClearTexture(dst.Host.Texture, hostgpu.ClearParam{
		SurfaceType: surfaceTypeOf(dst.Type),
		Format:      hostgpu.Format(dst.PixelFormat),
		Rect:        hostgpu.Rect{Left: int(rect.Left), Top: int(rect.Top), Right: int(rect.Right), Bottom: int(rect.Bottom)},
	}, hostgpu.ClearValue{RawBytes: buf})
}

// downloadSurfaceLocked reads h's host texture back into guest memory
// for the byte range iv, the inverse of uploadSurfaceLocked.
func (c *Cache) downloadSurfaceLocked(h surface.Handle, iv interval.Interval) {
	s := c.pool.Get(h)
	if s == nil || !s.Host.Valid {
		return
	}
	sub := s.FromInterval(iv)
	ref, ok := c.mem.GetPhysicalRef(sub.Addr)
	if !ok {
		return
	}
	n := int(sub.Size)
	if ref.Remaining < n {
		n = ref.Remaining
	}
	if n <= 0 {
		return
	}

	staging, err := c.runtime.FindStaging(n, false)
	if err != nil {
		rlog.Error("download: no staging buffer available", map[string]any{"addr": sub.Addr, "err": err.Error()})
		return
	}
	rect := s.GetScaledSubRect(&sub)
	err = c.runtime.ReadTexture(s.Host.Texture, hostgpu.ReadParam{
		Size:        n,
		SurfaceType: surfaceTypeOf(s.Type),
		Offset:      [2]int{int(rect.Left), int(rect.Bottom)},
		Extent:      [2]int{int(rect.Width()), int(rect.Height())},
	}, hostgpu.Format(s.PixelFormat), staging.Mapped[:n])
	if err != nil {
		rlog.Error("download: ReadTexture failed", map[string]any{"addr": sub.Addr, "err": err.Error()})
		return
	}

	out := staging.Mapped[:n]
	if sub.IsTiled {
		if c.codec != nil {
			out = c.codec.Swizzle(out, int(sub.Width), int(sub.Height), sub.Bpp())
		} else {
			rlog.Warn("no tile codec registered; downloading tiled bytes unswizzled", map[string]any{"addr": sub.Addr})
		}
	}
	copy(ref.Bytes[:n], out)
}

func surfaceTypeOf(t surface.Type) hostgpu.SurfaceType {
	switch t {
	case surface.TypeDepth:
		return hostgpu.TypeDepth
	case surface.TypeDepthStencil:
		return hostgpu.TypeDepthStencil
	case surface.TypeTexture:
		return hostgpu.TypeTexture
	case surface.TypeFill:
		return hostgpu.TypeFill
	default:
		return hostgpu.TypeColor
	}
}

// copySurfaceLocked copies the bytes of iv from src to dst. Fill
// sources clear dst with the fill pattern instead of blitting; a
// non-Fill source requires dst.FromInterval(iv) to be a valid
// sub-rect of src.
func (c *Cache) copySurfaceLocked(src, dst surface.Handle, iv interval.Interval) error {
	srcSurf := c.pool.Get(src)
	dstSurf := c.pool.Get(dst)
	if srcSurf == nil || dstSurf == nil {
		return hostgpu.ErrInvalidSize
	}
	if srcSurf.Type == surface.TypeFill {
		c.uploadFillLocked(srcSurf, dstSurf, iv)
		dstSurf.InvalidRegions.Subtract(iv)
		return nil
	}
	dstParams := dstSurf.FromInterval(iv)
	if !srcSurf.CanSubRect(&dstParams) {
		return hostgpu.ErrInvalidFormat
	}
	if !srcSurf.Host.Valid || !dstSurf.Host.Valid {
		return hostgpu.ErrInvalidSize
	}
	srcRect := srcSurf.GetScaledSubRect(&dstParams)
	dstRect := dstSurf.GetScaledSubRect(&dstParams)
	err := c.runtime.BlitTextures(srcSurf.Host.Texture, dstSurf.Host.Texture, hostgpu.BlitParam{
		SurfaceType: surfaceTypeOf(dstSurf.Type),
		SrcRegion:   hostgpu.Rect{Left: int(srcRect.Left), Top: int(srcRect.Top), Right: int(srcRect.Right), Bottom: int(srcRect.Bottom)},
		DstRegion:   hostgpu.Rect{Left: int(dstRect.Left), Top: int(dstRect.Top), Right: int(dstRect.Right), Bottom: int(dstRect.Bottom)},
	})
	if err != nil {
		return err
	}
	dstSurf.InvalidRegions.Subtract(iv)
	return nil
}

// CopySurface copies iv from src to dst, invalidating dst's
// watchers since its contents just changed.
func (c *Cache) CopySurface(src, dst surface.Handle, iv interval.Interval) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.copySurfaceLocked(src, dst, iv)
	if err == nil {
		if s := c.pool.Get(dst); s != nil {
			s.InvalidateWatchers()
		}
	}
	return err
}

// BlitSurfaces issues a format-compatible texture-to-texture blit
// between two cached surfaces, invalidating every watcher on dst.
func (c *Cache) BlitSurfaces(src, dst surface.Handle, srcRect, dstRect surface.Rect, linearFilter bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	srcSurf := c.pool.Get(src)
	dstSurf := c.pool.Get(dst)
	if srcSurf == nil || dstSurf == nil || !srcSurf.Host.Valid || !dstSurf.Host.Valid {
		return hostgpu.ErrInvalidSize
	}
	if srcSurf.Bpp() != dstSurf.Bpp() {
		return hostgpu.ErrInvalidFormat
	}
	s := srcSurf.ResScale
	d := dstSurf.ResScale
	err := c.runtime.BlitTextures(srcSurf.Host.Texture, dstSurf.Host.Texture, hostgpu.BlitParam{
		SurfaceType:  surfaceTypeOf(dstSurf.Type),
		SrcRegion:    hostgpu.Rect{Left: int(srcRect.Left * s), Top: int(srcRect.Top * s), Right: int(srcRect.Right * s), Bottom: int(srcRect.Bottom * s)},
		DstRegion:    hostgpu.Rect{Left: int(dstRect.Left * d), Top: int(dstRect.Top * d), Right: int(dstRect.Right * d), Bottom: int(dstRect.Bottom * d)},
		LinearFilter: linearFilter,
	})
	if err != nil {
		return err
	}
	dstSurf.InvalidateWatchers()
	return nil
}

// duplicateSurfaceLocked copies every copyable byte range of old
// onto dst, used when GetSurfaceSubRect widens a surface.
func (c *Cache) duplicateSurfaceLocked(old, dst surface.Handle) {
	oldSurf := c.pool.Get(old)
	if oldSurf == nil {
		return
	}
	for _, iv := range oldSurf.CopyableInterval().Intervals() {
		c.copySurfaceLocked(old, dst, iv)
	}
}
