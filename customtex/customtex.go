// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package customtex implements CustomTexManager: on-disk texture
// replacement discovery, hash-keyed lookup, PNG/DDS/KTX decode
// (done synchronously, on an entry's first lookup), and
// asynchronous upload dumping for textures the rasterizer cache
// would otherwise source from guest memory.
package customtex

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Hash is the 64-bit content hash a custom-texture file is keyed
// by, computed either over raw guest bytes or over decoded RGBA8
// bytes depending on Manager.compatibilityMode.
type Hash uint64

// ComputeHash hashes data with xxhash, the same algorithm the
// on-disk hash_hex16 file-name component encodes.
func ComputeHash(data []byte) Hash {
	return Hash(xxhash.Sum64(data))
}

// String formats h the way file names encode it: 16 lowercase hex
// digits, zero-padded.
func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// Format is the pixel format tag encoded in a custom-texture file
// name's trailing component. The rasterizer cache's own
// surface.PixelFormat values are reused verbatim; Manager never
// interprets them itself beyond round-tripping to/from a file name.
type Format int

// Entry describes one discovered custom-texture file: its header
// has been parsed but its pixel data has not necessarily been
// decoded yet (see Manager.Lookup).
type Entry struct {
	Path        string
	Width       int
	Height      int
	Hash        Hash
	Format      Format
	Ext         string // "png", "dds", or "ktx"
	decoded     bool
	rgba        []byte // tightly packed RGBA8, valid once decoded
	passthrough []byte // DDS/KTX bytes, copied as-is into staging
}
