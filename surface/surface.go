// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package surface

import (
	"bytes"

	"github.com/handheldemu/rastercache/hostgpu"
	"github.com/handheldemu/rastercache/internal/interval"
)

// MaxLevels bounds the mip chain a Surface can carry.
const MaxLevels = 8

// Surface is a cached image: a Params plus the host texture
// backing it and the bookkeeping the cache needs to keep guest
// memory and host texture in sync.
type Surface struct {
	Params

	Host HostTexture

	// InvalidRegions is the subset of [Addr, End) that the host
	// texture does not yet reflect — bytes written on the guest
	// side since the last upload.
	InvalidRegions interval.Set

	// FillData holds up to 4 bytes of repeating fill value for a
	// Fill-type surface (a GPU memory-fill target never backed by
	// a real host texture); FillSize is how many of those bytes
	// are significant (2, 3 or 4).
	FillData [4]byte
	FillSize uint32

	// Registered reports whether the cache currently indexes this
	// surface by address; unregistered surfaces are skipped by
	// invalidation.
	Registered bool

	// MaxLevel is the highest mip level actually present on Host
	// (0 when only the base level exists).
	MaxLevel uint32

	watchers []*Watcher
}

// HostTexture is the live host-GPU resource backing a Surface,
// set when the cache creates the surface (newly allocated or taken
// from the recycler), before any upload.
type HostTexture struct {
	Texture hostgpu.Texture
	Valid   bool
}

// IsFill reports whether this is a Fill-type surface.
func (s *Surface) IsFill() bool { return s.Type == TypeFill }

// CanFill reports whether s, a Fill-type surface, can supply dest's
// bytes — s's range must enclose dest's, and if s's repeating fill
// pattern is narrower than dest's pixel width it must actually
// repeat evenly across a dest-bpp-wide pixel (including the 4-bit
// nibble case, where the low and high nibbles must also agree).
func (s *Surface) CanFill(dest *Params) bool {
	if s.Type != TypeFill || s.FillSize == 0 {
		return false
	}
	if s.Addr > dest.Addr || s.End < dest.End {
		return false
	}
	bpp := dest.Bpp()
	if s.FillSize*8 == bpp {
		return true
	}

	destBpp := bpp / 8
	if destBpp == 0 {
		destBpp = 1
	}
	fillTest := make([]byte, s.FillSize*destBpp)
	for i := uint32(0); i < destBpp; i++ {
		copy(fillTest[i*s.FillSize:(i+1)*s.FillSize], s.FillData[:s.FillSize])
	}
	for i := uint32(0); i < s.FillSize; i++ {
		if !bytes.Equal(fillTest[destBpp*i:destBpp*(i+1)], fillTest[:destBpp]) {
			return false
		}
	}
	if bpp == 4 && (fillTest[0]&0xF) != (fillTest[0]>>4) {
		return false
	}
	return true
}

// CanCopy reports whether s can serve as the source of a copy to
// a destination described by dest: either dest is a same-format
// sub-rect of s, or s is a Fill surface whose pattern covers dest.
// Cross-format acceleration (two different pixel formats aliasing
// the same guest bytes) goes through MatchTexCopy/CanTexCopy
// instead, not through CanCopy.
func (s *Surface) CanCopy(dest *Params) bool {
	if s.ExactMatch(dest) || s.CanSubRect(dest) {
		return true
	}
	return s.CanFill(dest)
}

// CopyableInterval returns the subset of [Addr, End) that s can
// currently supply valid bytes for — i.e. everything NOT in
// InvalidRegions.
func (s *Surface) CopyableInterval() interval.Set {
	whole := interval.NewSet(s.Interval())
	for _, bad := range s.InvalidRegions.Intervals() {
		whole.Subtract(bad)
	}
	return whole
}

// AddWatcher registers w as an observer of s.
func (s *Surface) AddWatcher(w *Watcher) {
	s.watchers = append(s.watchers, w)
}

// InvalidateWatchers marks every registered Watcher stale. Called
// when s is about to be destroyed or replaced: a Watcher observes
// a Surface without extending its lifetime or blocking its
// invalidation.
func (s *Surface) InvalidateWatchers() {
	for _, w := range s.watchers {
		w.invalidate()
	}
	s.watchers = nil
}
