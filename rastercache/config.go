// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package rastercache implements SurfaceCache, Validator, Flusher
// and the composite-resource assemblers (CubeAssembler/MipChain):
// the interval-indexed store of live cached surfaces, the
// match-finding and validation algorithms that keep host textures
// coherent with guest memory, and the flush/invalidate protocol
// driven by guest CPU writes and GPU render-target updates.
package rastercache

import (
	"io/fs"

	"github.com/handheldemu/rastercache/customtex"
)

const (
	// MaxResolutionFactor bounds the configurable upscale factor;
	// 0 means "follow window scaling" rather than a fixed factor.
	MaxResolutionFactor = 10

	dflResolutionFactor = 1
)

// Config configures a Cache.
type Config struct {
	// ResolutionFactor is the cache-wide resolution scale New
	// records (0 is recorded as 1; values 1..10 name a fixed integer
	// upscale). It is not applied to surfaces automatically: each
	// surface takes its ResScale from the Params it is requested
	// with.
	//
	// Default is 1.
	ResolutionFactor int

	// CustomTexturesEnabled loads disk texture replacements via
	// customtex.Manager when set.
	//
	// Default is false.
	CustomTexturesEnabled bool

	// DumpTextures snapshots uploaded textures to disk for later
	// replacement authoring when set.
	//
	// Default is false.
	DumpTextures bool

	// CompatibilityMode makes customtex.Manager hash decoded RGBA
	// bytes instead of raw guest bytes when a lookup supplies an
	// RGBA decoder. The cache's upload path supplies none, and dumps
	// always hash raw bytes, so within this cache the setting does
	// not change any hash.
	//
	// Default is false.
	CompatibilityMode bool

	// TextureFS and TextureRoot locate on-disk texture replacements
	// for CustomTexturesEnabled. When TextureFS is nil, New creates
	// no customtex.Manager, so neither replacements nor dumps
	// happen; when discovery under TextureRoot fails, New logs the
	// error and proceeds without them.
	TextureFS   fs.FS
	TextureRoot string

	// TextureDumper receives encoded PNG dumps when DumpTextures is
	// set. Required for DumpTextures to take effect.
	TextureDumper customtex.Dumper

	// MaxTextureWorkers bounds the custom-texture dump worker
	// pool. 0 means max(GOMAXPROCS-1, 1). Decoding does not use
	// the pool.
	MaxTextureWorkers int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ResolutionFactor:      dflResolutionFactor,
		CustomTexturesEnabled: false,
		DumpTextures:          false,
		CompatibilityMode:     false,
	}
}
