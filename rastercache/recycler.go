// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rastercache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/handheldemu/rastercache/hostgpu"
)

// shapeKey identifies a recyclable host-texture shape: the
// original source's HostTextureTag (format, width, height).
type shapeKey struct {
	format        hostgpu.Format
	width, height int
	cube          bool
}

// recycler is the host-texture recycler: on Surface destruction
// the host texture is not freed but pushed here, keyed by its
// allocated shape, to be reused by the next allocation of the
// same shape rather than paying a fresh Allocate2D/AllocateCubeMap
// round trip. Bounded so a long play session with many distinct
// shapes (resolution changes, mixed formats) can't grow the
// recycler without limit; eviction releases the texture back to
// the runtime.
type recycler struct {
	runtime hostgpu.Runtime
	buckets *lru.Cache[shapeKey, []hostgpu.Texture]
}

const recyclerShapeCap = 64

func newRecycler(runtime hostgpu.Runtime) *recycler {
	buckets, err := lru.NewWithEvict[shapeKey, []hostgpu.Texture](recyclerShapeCap, func(_ shapeKey, texs []hostgpu.Texture) {
		for _, t := range texs {
			runtime.Release(t)
		}
	})
	if err != nil {
		// recyclerShapeCap is a positive constant; NewWithEvict
		// only fails for size <= 0.
		panic(err)
	}
	return &recycler{runtime: runtime, buckets: buckets}
}

// put returns tex to the recycler for later reuse under key.
func (r *recycler) put(key shapeKey, tex hostgpu.Texture) {
	texs, _ := r.buckets.Get(key)
	texs = append(texs, tex)
	r.buckets.Add(key, texs)
}

// take removes and returns a recycled texture matching key, if
// any is available.
func (r *recycler) take(key shapeKey) (hostgpu.Texture, bool) {
	texs, ok := r.buckets.Get(key)
	if !ok || len(texs) == 0 {
		var zero hostgpu.Texture
		return zero, false
	}
	last := len(texs) - 1
	tex := texs[last]
	texs = texs[:last]
	if len(texs) == 0 {
		r.buckets.Remove(key)
	} else {
		r.buckets.Add(key, texs)
	}
	return tex, true
}

// purge releases every recycled texture back to the runtime.
func (r *recycler) purge() { r.buckets.Purge() }
