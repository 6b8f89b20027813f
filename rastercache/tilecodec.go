// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rastercache

// TileCodec swizzles and unswizzles the 8x8 Z-order micro-tile
// layout tiled surfaces use on the guest side. It is an external
// collaborator: the cache only calls it at the upload/download
// boundary and carries no opinion about the swizzle algorithm
// itself.
type TileCodec interface {
	// Unswizzle converts tiled guest bytes into linear,
	// row-major order suitable for a host texture upload.
	Unswizzle(tiled []byte, width, height int, bpp uint32) []byte

	// Swizzle is Unswizzle's inverse, used when downloading a
	// tiled surface back to guest memory.
	Swizzle(linear []byte, width, height int, bpp uint32) []byte
}

// SetTileCodec installs the codec used for tiled surfaces. Until
// one is set, tiled uploads/downloads fall back to a byte-for-byte
// copy and log a warning — visually wrong but shape-preserving,
// since this module does not implement the swizzle algorithm
// itself.
func (c *Cache) SetTileCodec(codec TileCodec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codec = codec
}
