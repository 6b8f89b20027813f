// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rastercache

import (
	"github.com/handheldemu/rastercache/hostgpu"
	"github.com/handheldemu/rastercache/internal/rlog"
	"github.com/handheldemu/rastercache/surface"
)

// cubeEntry is a live cubemap composite: one combined host texture
// plus a watcher onto each of its 6 source faces.
type cubeEntry struct {
	tex      hostgpu.Texture
	resScale uint32
	faces    [6]surface.Watcher
	params   [6]surface.Params
}

// GetCubeSurface resolves the 6-face cubemap keyed on faceAddrs,
// width and format, creating or reallocating the composite texture
// as needed and blitting any face whose watcher reports invalid.
// faceParams[i].Addr must equal faceAddrs[i]; width/format must
// agree across every face.
func (c *Cache) GetCubeSurface(faceAddrs [6]uint64, width uint32, format surface.PixelFormat, faceParams [6]surface.Params) (hostgpu.Texture, bool) {
	// Face surfaces are resolved through the public, self-locking
	// GetSurface before taking c.mu below: the cache mutex is not
	// reentrant, and GetSurface takes it itself.
	faceHandles := [6]surface.Handle{}
	for i, p := range faceParams {
		h, ok := c.GetSurface(p, ScaleIgnore, false)
		if !ok {
			rlog.Error("cube face surface unavailable", map[string]any{"face": i, "addr": p.Addr})
			return nil, false
		}
		faceHandles[i] = h
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cubeKey{faceAddrs: faceAddrs, width: width, format: format}
	entryHandle, exists := c.cubeCache[key]
	var entry *cubeEntry
	if exists {
		entry, exists = c.cubeEntries[entryHandle]
	}

	maxScale := uint32(1)
	for _, h := range faceHandles {
		if s := c.pool.Get(h); s != nil && s.ResScale > maxScale {
			maxScale = s.ResScale
		}
	}

	if !exists || entry.resScale != maxScale {
		tex, err := c.runtime.AllocateCubeMap(int(width*maxScale), hostgpu.Format(format), 1)
		if err != nil {
			rlog.Error("failed to allocate cube texture", map[string]any{"width": width, "err": err.Error()})
			return nil, false
		}
		// faces is left at its zero value (every Watcher reports
		// invalid) so the loop below blits all 6 faces on first use,
		// regardless of whether their source surfaces happen to be
		// fresh right now.
		newEntry := &cubeEntry{tex: tex, resScale: maxScale, params: faceParams}
		id := c.nextCubeID
		c.nextCubeID++
		c.cubeEntries[id] = newEntry
		c.cubeCache[key] = id
		entry = newEntry
	}

	for i := range entry.faces {
		if _, valid := entry.faces[i].Get(); valid {
			continue
		}
		h := faceHandles[i]
		c.validateLocked(h, entry.params[i].Addr, entry.params[i].Size)
		entry.faces[i] = *c.pool.Watch(h)

		s := c.pool.Get(h)
		if s == nil || !s.Host.Valid {
			continue
		}
		faceRect := s.ScaledRect()
		err := c.runtime.BlitTextures(s.Host.Texture, entry.tex, hostgpu.BlitParam{
			SurfaceType: hostgpu.TypeTexture,
			DstLayer:    i,
			SrcRegion:   hostgpu.Rect{Left: int(faceRect.Left), Top: int(faceRect.Top), Right: int(faceRect.Right), Bottom: int(faceRect.Bottom)},
			DstRegion:   hostgpu.Rect{Right: int(width * entry.resScale), Top: int(width * entry.resScale)},
		})
		if err != nil {
			rlog.Error("cube face blit failed", map[string]any{"face": i, "err": err.Error()})
		}
	}

	return entry.tex, true
}
