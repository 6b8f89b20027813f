// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package customtex

import (
	"bytes"
	"image"
	"image/png"
	"testing"
	"testing/fstest"
)

func makePNG(t *testing.T, width, height int, fill byte) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

type memDumper struct {
	writes map[string][]byte
}

func (d *memDumper) WriteDump(name string, data []byte) error {
	if d.writes == nil {
		d.writes = make(map[string][]byte)
	}
	d.writes[name] = data
	return nil
}

func TestDiscoverParsesFileName(t *testing.T) {
	raw := []byte("guest bytes for a 64x64 surface")
	h := ComputeHash(raw)
	name := "tex1_" + "64x64_" + h.String() + "_0.png"

	fsys := fstest.MapFS{
		"textures/title/" + name: {Data: makePNG(t, 64, 64, 0x7F)},
	}

	entries, err := Discover(fsys, "textures/title")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	e, ok := entries[h]
	if !ok {
		t.Fatalf("expected entry for hash %s, got %v", h, entries)
	}
	if e.Width != 64 || e.Height != 64 {
		t.Fatalf("got %dx%d, want 64x64", e.Width, e.Height)
	}
	if e.Ext != "png" {
		t.Fatalf("got ext %q, want png", e.Ext)
	}
}

func TestDiscoverIgnoresUnrelatedFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"textures/title/readme.txt":       {Data: []byte("not a texture")},
		"textures/title/tex1_bad_name.png": {Data: []byte{}},
	}
	entries, err := Discover(fsys, "textures/title")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestHashCollisionKeepsFirstFile(t *testing.T) {
	raw := []byte("colliding bytes")
	h := ComputeHash(raw)
	name := "tex1_32x32_" + h.String() + "_0.png"

	fsys := fstest.MapFS{
		"textures/title/a/" + name: {Data: makePNG(t, 32, 32, 1)},
		"textures/title/b/" + name: {Data: makePNG(t, 32, 32, 2)},
	}
	entries, err := Discover(fsys, "textures/title")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one surviving entry, got %d", len(entries))
	}
	if e := entries[h]; e == nil || e.Path != "textures/title/a/"+name {
		t.Fatalf("expected the first file in walk order to survive, got %+v", e)
	}
}

func TestManagerLookupDecodesOnFirstUse(t *testing.T) {
	raw := []byte("surface upload bytes")
	h := ComputeHash(raw)
	name := "tex1_4x4_" + h.String() + "_0.png"
	pngBytes := makePNG(t, 4, 4, 0x40)

	fsys := fstest.MapFS{
		"textures/title/" + name: {Data: pngBytes},
	}

	m, err := New(fsys, "textures/title", &memDumper{}, Config{CustomTexturesEnabled: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rgba, _, ok := m.Lookup(raw, nil)
	if !ok {
		t.Fatalf("expected a replacement match for hash %s", h)
	}
	if len(rgba) != 4*4*4 {
		t.Fatalf("got %d decoded bytes, want %d", len(rgba), 4*4*4)
	}
	for _, b := range rgba {
		_ = b // decoded RGBA8; exact channel values depend on PNG color model normalization
	}
}

func TestManagerLookupMissWhenDisabled(t *testing.T) {
	m, err := New(fstest.MapFS{}, "textures/title", &memDumper{}, Config{CustomTexturesEnabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, ok := m.Lookup([]byte("anything"), nil); ok {
		t.Fatalf("expected no match when custom textures are disabled")
	}
}

func TestDumpIfNewSkipsNonPowerOfTwo(t *testing.T) {
	dumper := &memDumper{}
	m, err := New(fstest.MapFS{}, "textures/title", dumper, Config{DumpTextures: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.DumpIfNew(make([]byte, 100*100*4), 100, 100, 0)
	if err := m.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(dumper.writes) != 0 {
		t.Fatalf("expected no dump for non-power-of-two surface, got %d", len(dumper.writes))
	}
}

func TestDumpIfNewWritesOncePerHash(t *testing.T) {
	dumper := &memDumper{}
	m, err := New(fstest.MapFS{}, "textures/title", dumper, Config{DumpTextures: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw := make([]byte, 8*8*4)
	m.DumpIfNew(raw, 8, 8, 0)
	m.DumpIfNew(raw, 8, 8, 0)
	if err := m.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(dumper.writes) != 1 {
		t.Fatalf("expected exactly one dump write, got %d", len(dumper.writes))
	}
}
