// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package rastercache

import (
	"github.com/handheldemu/rastercache/hostgpu"
	"github.com/handheldemu/rastercache/internal/rlog"
)

// SamplerID identifies a pooled sampler. The zero value names no
// sampler.
type SamplerID int

// SamplerParams is the value-comparable sampler state a texture
// fetch unit binds: wrap mode, min/mag/mip filter, border color,
// and LOD clamps. Two surfaces sampled with equal SamplerParams
// share the same pooled runtime sampler.
type SamplerParams struct {
	MinFilter, MagFilter, MipFilter hostgpu.Filter
	WrapU, WrapV                    hostgpu.AddrMode
	Cmp                             hostgpu.CmpFunc
	MinLOD, MaxLOD                  float32
	BorderColor                     [4]float32
}

func (p SamplerParams) toSampling() hostgpu.Sampling {
	return hostgpu.Sampling{
		Min:    p.MinFilter,
		Mag:    p.MagFilter,
		Mipmap: p.MipFilter,
		AddrU:  p.WrapU,
		AddrV:  p.WrapV,
		Cmp:    p.Cmp,
		MinLOD: p.MinLOD,
		MaxLOD: p.MaxLOD,
	}
}

// SamplerPool deduplicates hostgpu.Sampler objects by SamplerParams
// value, so two surfaces sampled the same way share a single
// runtime sampler object instead of each owning one. Games
// recreate sampler state constantly across draw calls; without
// pooling the runtime would thrash allocation every frame.
type SamplerPool struct {
	byState  map[SamplerParams]SamplerID
	samplers []hostgpu.Sampler
}

// Get returns the pooled sampler for params, creating it on first
// use. false is returned only if the runtime itself failed to
// create the sampler.
func (p *SamplerPool) Get(runtime hostgpu.Runtime, params SamplerParams) (SamplerID, bool) {
	if p.byState == nil {
		p.byState = make(map[SamplerParams]SamplerID)
	}
	if id, ok := p.byState[params]; ok {
		return id, true
	}
	splr, err := runtime.NewSampler(params.toSampling())
	if err != nil {
		rlog.Error("failed to create sampler", map[string]any{"err": err.Error()})
		return 0, false
	}
	p.samplers = append(p.samplers, splr)
	id := SamplerID(len(p.samplers))
	p.byState[params] = id
	return id, true
}

// Sampler returns the hostgpu.Sampler backing id, or nil if id
// does not name a pooled sampler.
func (p *SamplerPool) Sampler(id SamplerID) hostgpu.Sampler {
	if id <= 0 || int(id) > len(p.samplers) {
		return nil
	}
	return p.samplers[id-1]
}

// Clear destroys every pooled sampler, used when the runtime is
// being torn down along with the rest of the cache.
func (p *SamplerPool) Clear() {
	for _, s := range p.samplers {
		s.Destroy()
	}
	p.samplers = nil
	p.byState = nil
}

// Sampler returns the pooled sampler for params, creating it if
// necessary.
func (c *Cache) Sampler(params SamplerParams) (SamplerID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samplers.Get(c.runtime, params)
}
