// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rastercache

import (
	"testing"

	"github.com/handheldemu/rastercache/surface"
)

func sixFaceParams(base uint64, width uint32) ([6]uint64, [6]surface.Params) {
	var addrs [6]uint64
	var params [6]surface.Params
	for i := 0; i < 6; i++ {
		p := rgbaParams(base+uint64(i)*0x10000, width, width)
		addrs[i] = p.Addr
		params[i] = p
	}
	return addrs, params
}

func TestGetCubeSurfaceAssemblesAllSixFaces(t *testing.T) {
	c, rt, _ := newTestCache(8 << 20)
	addrs, params := sixFaceParams(0x10000, 32)

	tex, ok := c.GetCubeSurface(addrs, 32, surface.RGBA8, params)
	if !ok {
		t.Fatalf("expected cube assembly to succeed")
	}
	if tex.Layers() != 6 {
		t.Fatalf("expected a 6-layer composite, got %d", tex.Layers())
	}

	key := cubeKey{faceAddrs: addrs, width: 32, format: surface.RGBA8}
	id, exists := c.cubeCache[key]
	if !exists {
		t.Fatalf("expected cube entry to be cached under its key")
	}
	entry := c.cubeEntries[id]
	for i := range entry.faces {
		if _, valid := entry.faces[i].Get(); !valid {
			t.Fatalf("expected face %d to be valid after initial assembly", i)
		}
	}

	// allocCalls: 6 face Allocate2D + 1 AllocateCubeMap.
	if rt.allocCalls != 7 {
		t.Fatalf("expected 7 allocations (6 faces + 1 cube), got %d", rt.allocCalls)
	}
}

func TestGetCubeSurfaceReusesCompositeOnSecondCall(t *testing.T) {
	c, rt, _ := newTestCache(8 << 20)
	addrs, params := sixFaceParams(0x20000, 32)

	if _, ok := c.GetCubeSurface(addrs, 32, surface.RGBA8, params); !ok {
		t.Fatalf("first assembly failed")
	}
	allocsAfterFirst := rt.allocCalls

	if _, ok := c.GetCubeSurface(addrs, 32, surface.RGBA8, params); !ok {
		t.Fatalf("second assembly failed")
	}
	if rt.allocCalls != allocsAfterFirst {
		t.Fatalf("expected no new allocations on a repeated assembly with unchanged faces, got %d -> %d", allocsAfterFirst, rt.allocCalls)
	}
}

func TestGetCubeSurfaceReallocatesOnScaleChange(t *testing.T) {
	c, _, _ := newTestCache(8 << 20)
	addrs, params := sixFaceParams(0x30000, 32)

	tex1, ok := c.GetCubeSurface(addrs, 32, surface.RGBA8, params)
	if !ok {
		t.Fatalf("first assembly failed")
	}

	// SetResolutionScale clears every cached surface (including the
	// cube composite), so the next assembly rebuilds faces and the
	// composite texture at the new scale from scratch.
	c.SetResolutionScale(2)
	for i := range params {
		params[i].ResScale = 2
	}
	tex2, ok := c.GetCubeSurface(addrs, 32, surface.RGBA8, params)
	if !ok {
		t.Fatalf("rescaled assembly failed")
	}
	if tex1 == tex2 {
		t.Fatalf("expected a resolution-scale change to allocate a new composite texture")
	}
	if tex2.Width() != 64 {
		t.Fatalf("expected composite width to follow max face scale, got %d", tex2.Width())
	}
}
