// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package memsys defines the Memory capability:
// the guest physical memory accessor the rasterizer cache reads
// from on upload and writes to on flush, and the write-trapping
// control the cache uses to learn about guest CPU writes to
// cached regions. The concrete guest memory system is an
// external collaborator and out of scope for this module.
package memsys

// Ref is a live reference into guest physical memory, valid
// until the next call that could invalidate guest memory
// mappings. Remaining reports how many bytes follow Addr before
// the mapping ends (a physical region need not be contiguous
// past a page boundary).
type Ref struct {
	Bytes     []byte
	Remaining int
}

// Memory is the capability a rasterizer cache is constructed
// with. Implementations must be safe for concurrent use by the
// cache thread and any worker pool code that happens to read
// guest memory: the Memory capability is externally thread-safe.
type Memory interface {
	// GetPhysicalRef returns a reference to the guest bytes at
	// addr, or ok == false if addr does not resolve to mapped
	// physical memory. A false result is not an error: the
	// region is simply left unupdated and retried on the next
	// pass.
	GetPhysicalRef(addr uint64) (ref Ref, ok bool)

	// MarkRegionCached instructs the memory system to enable
	// (cached == true) or disable (cached == false) write
	// trapping for the page-aligned byte range
	// [addr, addr+bytes). Called only at 0<->1 refcount
	// transitions by pagetrack.Tracker.
	MarkRegionCached(addr uint64, bytes uint64, cached bool)
}
