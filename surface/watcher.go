// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package surface

// Watcher observes a Surface without extending its lifetime or
// preventing its invalidation — the role a weak reference plays
// in the original design. Once the observed Surface is
// removed from its Pool, the Watcher reports itself as invalid
// forever; it never resurrects or rebinds to a different surface.
type Watcher struct {
	handle Handle
	valid  bool
}

// Get returns the Handle this Watcher observes and whether it is
// still live. Callers must still confirm liveness against the
// owning Pool with Pool.Get, since a Watcher only remembers that
// its surface was removed at some point, not the Pool's current
// state of other handles.
func (w *Watcher) Get() (Handle, bool) {
	if w == nil || !w.valid {
		return Nil, false
	}
	return w.handle, true
}

func (w *Watcher) invalidate() { w.valid = false }
