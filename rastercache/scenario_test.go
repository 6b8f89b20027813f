// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rastercache

import (
	"bytes"
	"image"
	"image/png"
	"testing"
	"testing/fstest"

	"github.com/handheldemu/rastercache/customtex"
	"github.com/handheldemu/rastercache/internal/interval"
	"github.com/handheldemu/rastercache/surface"
)

func newSparseTestCache() (*Cache, *fakeRuntime, *sparseMemory) {
	rt := newFakeRuntime()
	mem := newSparseMemory()
	c := New(rt, mem, DefaultConfig())
	return c, rt, mem
}

func tiledRGBAParams(addr uint64, w, h uint32) surface.Params {
	p := surface.Params{
		Addr:        addr,
		Width:       w,
		Height:      h,
		Stride:      w,
		PixelFormat: surface.RGBA8,
		IsTiled:     true,
		ResScale:    1,
		Levels:      1,
	}
	p.UpdateParams()
	return p
}

// S1: a cache hit serves a repeated request for the same tiled
// surface from the existing host texture, without re-reading guest
// memory or leaving anything invalid.
func TestScenarioCacheHitServesSameSurfaceWithoutReread(t *testing.T) {
	c, rt, mem := newSparseTestCache()
	p := tiledRGBAParams(0x18000000, 64, 64)

	h1, ok := c.GetSurface(p, ScaleExact, true)
	if !ok {
		t.Fatalf("initial GetSurface failed")
	}
	readsAfterFirst := mem.reads
	if readsAfterFirst == 0 {
		t.Fatalf("expected the initial upload to read guest memory")
	}

	h2, ok := c.GetSurface(p, ScaleExact, true)
	if !ok {
		t.Fatalf("repeat GetSurface failed")
	}
	if h1 != h2 {
		t.Fatalf("expected the repeat request to resolve to the same surface")
	}
	if mem.reads != readsAfterFirst {
		t.Fatalf("expected no additional guest read on a cache hit, reads went %d -> %d", readsAfterFirst, mem.reads)
	}
	if rt.allocCalls != 1 {
		t.Fatalf("expected exactly one host texture allocation, got %d", rt.allocCalls)
	}

	s := c.pool.Get(h2)
	if !s.InvalidRegions.Empty() {
		t.Fatalf("expected empty invalid_regions after the cache hit, got %+v", s.InvalidRegions)
	}
}

// S2: a surface bound as a color render target aliases a later
// texture request over the same range without any guest round
// trip — the GPU-produced content is reused as-is.
func TestScenarioFramebufferAliasesAsTexture(t *testing.T) {
	c, _, mem := newSparseTestCache()
	color := rgbaParams(0x1F000000, 512, 256)

	rt := c.GetFramebufferSurfaces(&color, nil)
	if rt.Color == surface.Nil {
		t.Fatalf("expected a bound color target")
	}

	// The draw call produced valid pixels directly on the host
	// texture; nothing here came from guest memory.
	colorSurf := c.pool.Get(rt.Color)
	colorSurf.InvalidRegions.Clear()
	c.InvalidateRenderTargets(surface.Rect{})

	readsBeforeTextureRequest := mem.reads

	texHandle, ok := c.GetSurface(color, ScaleExact, true)
	if !ok {
		t.Fatalf("expected the texture request to succeed")
	}
	if texHandle != rt.Color {
		t.Fatalf("expected the texture request to reuse the bound render target's surface")
	}
	if mem.reads != readsBeforeTextureRequest {
		t.Fatalf("expected no guest memory read when reusing a GPU-valid render target, reads went %d -> %d", readsBeforeTextureRequest, mem.reads)
	}
	s := c.pool.Get(texHandle)
	if !s.InvalidRegions.Empty() {
		t.Fatalf("expected the aliased texture to already be fully valid")
	}
}

// S3: a small CPU write into a live surface's range is treated as
// a guest poll — the surface is flushed and removed outright, and
// the pages it covered drop back to uncached once nothing else
// references them.
func TestScenarioPartialCPUWriteInvalidatesAndUncaches(t *testing.T) {
	c, _, mem := newSparseTestCache()
	p := rgbaParams(0x20000000, 256, 256)

	h, ok := c.GetSurface(p, ScaleExact, true)
	if !ok {
		t.Fatalf("GetSurface failed")
	}
	if mem.caching[p.Addr] != true {
		t.Fatalf("expected the surface's pages to be marked cached on creation")
	}

	c.InvalidateRegion(p.Addr+0x100, 4, surface.Nil)

	if c.pool.Get(h) != nil {
		t.Fatalf("expected the surface to be removed after a small CPU write")
	}
	if mem.caching[p.Addr] != false {
		t.Fatalf("expected the surface's pages to be marked uncached once its refcount hit 0")
	}
}

// S4: requesting RGBA8 over a range currently held as D24S8 fails
// the same-format expand match, falls back to probing the D24S8
// occupant, adopts its resolution scale, and resolves through the
// registered reinterpreter rather than a generic same-bpp copy.
func TestScenarioReinterpretsD24S8AsRGBA8(t *testing.T) {
	c, _, _ := newSparseTestCache()
	addr := uint64(0x1E000000)

	depth := surface.Params{
		Addr: addr, Width: 64, Height: 64, Stride: 64,
		PixelFormat: surface.D24S8, ResScale: 2, Levels: 1,
	}
	depth.UpdateParams()
	if _, ok := c.GetSurface(depth, ScaleExact, true); !ok {
		t.Fatalf("failed to create the D24S8 occupant")
	}

	reinterpretCalls := 0
	c.RegisterReinterpreter(surface.D24S8, surface.RGBA8, func(cc *Cache, src, dst *surface.Surface, iv interval.Interval) error {
		reinterpretCalls++
		return nil
	})

	color := surface.Params{
		Addr: addr, Width: 64, Height: 64, Stride: 64,
		PixelFormat: surface.RGBA8, ResScale: 1, Levels: 1,
	}
	color.UpdateParams()

	h, ok := c.GetSurface(color, ScaleIgnore, true)
	if !ok {
		t.Fatalf("expected the RGBA8 request to succeed via reinterpretation")
	}
	s := c.pool.Get(h)
	if s.ResScale != 2 {
		t.Fatalf("expected the new surface to adopt the D24S8 occupant's resolution scale, got %d", s.ResScale)
	}
	if reinterpretCalls != 1 {
		t.Fatalf("expected exactly one reinterpreter invocation, got %d", reinterpretCalls)
	}
	if !s.InvalidRegions.Empty() {
		t.Fatalf("expected the reinterpreted surface to end up fully valid")
	}
}

// S5: a 6-face cubemap assembles into one composite sized to the
// highest resolution scale among its faces, with every face
// watcher left valid.
func TestScenarioCubemapAssemblesAtMaxFaceScale(t *testing.T) {
	c, _, _ := newTestCache(8 << 20)
	addrs, params := sixFaceParams(0x40000, 128)
	params[2].ResScale = 3 // one face cached at a higher scale than the rest

	tex, ok := c.GetCubeSurface(addrs, 128, surface.RGBA8, params)
	if !ok {
		t.Fatalf("expected cube assembly to succeed")
	}
	if tex.Width() != 128*3 {
		t.Fatalf("expected composite width to follow the max face scale (3x), got %d", tex.Width())
	}

	key := cubeKey{faceAddrs: addrs, width: 128, format: surface.RGBA8}
	id, exists := c.cubeCache[key]
	if !exists {
		t.Fatalf("expected the cube entry to be cached under its key")
	}
	entry := c.cubeEntries[id]
	for i := range entry.faces {
		if _, valid := entry.faces[i].Get(); !valid {
			t.Fatalf("expected face %d's watcher to be valid after assembly", i)
		}
	}
}

// makeScenarioPNG builds an opaque width x height PNG with every
// pixel's R/G/B set to rgb. Alpha is forced to 0xFF so decoding
// back through the premultiplied-alpha RGBA color model doesn't
// scale rgb down, keeping the round-tripped byte values exact.
func makeScenarioPNG(t *testing.T, width, height int, rgb byte) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = rgb
		img.Pix[i+1] = rgb
		img.Pix[i+2] = rgb
		img.Pix[i+3] = 0xFF
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

type scenarioDumper struct{ writes map[string][]byte }

func (d *scenarioDumper) WriteDump(name string, data []byte) error {
	if d.writes == nil {
		d.writes = make(map[string][]byte)
	}
	d.writes[name] = data
	return nil
}

// S6: a surface whose raw guest bytes hash to an on-disk custom
// texture's file name is uploaded from the decoded replacement
// instead of guest memory, and the replacement hit is never
// queued for dumping.
func TestScenarioCustomTextureReplacesUploadAndSkipsDump(t *testing.T) {
	rt := newFakeRuntime()
	mem := newFakeMemory(1 << 20)

	const addr, w, h = 0x5000, 64, 64
	raw := make([]byte, w*h*4)
	for i := range raw {
		raw[i] = byte(i*7 + 3)
	}
	copy(mem.buf[addr:], raw)

	hash := customtex.ComputeHash(raw)
	name := customtex.DumpFileName(w, h, hash, 0)
	pngBytes := makeScenarioPNG(t, w, h, 0x55)

	fsys := fstest.MapFS{
		"textures/title/" + name: {Data: pngBytes},
	}
	dumper := &scenarioDumper{}

	cfg := DefaultConfig()
	cfg.CustomTexturesEnabled = true
	cfg.DumpTextures = true
	cfg.TextureFS = fsys
	cfg.TextureRoot = "textures/title"
	cfg.TextureDumper = dumper

	c := New(rt, mem, cfg)
	if c.customTex == nil {
		t.Fatalf("expected custom texture discovery to have wired a Manager")
	}

	p := rgbaParams(addr, w, h)
	surfHandle, ok := c.GetSurface(p, ScaleExact, true)
	if !ok {
		t.Fatalf("GetSurface failed")
	}
	s := c.pool.Get(surfHandle)
	if !s.InvalidRegions.Empty() {
		t.Fatalf("expected the surface to be fully valid after the replacement upload")
	}

	if err := c.customTex.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(dumper.writes) != 0 {
		t.Fatalf("expected the replacement hit not to queue a dump, got %d writes", len(dumper.writes))
	}

	ft := scenarioHostTexture(t, s)
	want := byte(0x55)
	if ft.pix[0] != want || ft.pix[1] != want {
		t.Fatalf("expected the decoded replacement's pixels on the host texture, got %v", ft.pix[:4])
	}
}

func scenarioHostTexture(t *testing.T, s *surface.Surface) *fakeTexture {
	t.Helper()
	ft, ok := s.Host.Texture.(*fakeTexture)
	if !ok {
		t.Fatalf("expected a fakeTexture host texture")
	}
	return ft
}
