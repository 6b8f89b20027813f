// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package customtex

import (
	"bytes"
	"image"
	"image/png"
	"io/fs"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/handheldemu/rastercache/internal/rlog"
)

// Dumper writes a dumped texture's encoded PNG bytes to the dump
// directory; an external collaborator so Manager stays agnostic of
// the concrete file system used for writes (the discovery side
// reads through an fs.FS, but fs.FS is read-only, so dumping goes
// through this narrower capability instead).
type Dumper interface {
	WriteDump(name string, png []byte) error
}

// Manager is CustomTexManager: a hash-keyed map of discovered
// on-disk texture replacements, a record of which hashes have
// already been dumped this run, and a worker pool that performs
// dump-encode jobs off the cache's single GPU thread. Decoding does
// not use the pool: Lookup decodes an entry on the calling
// goroutine the first time it matches.
type Manager struct {
	mu                sync.Mutex
	entries           map[Hash]*Entry
	dumped            map[Hash]struct{}
	compatibilityMode bool
	enabled           bool
	dumpEnabled       bool

	fsys  fs.FS
	dumpW Dumper

	group      singleflight.Group
	workers    errgroup.Group
	maxWorkers int
}

// Config holds the subset of the enclosing process's configuration
// customtex.Manager needs.
type Config struct {
	CustomTexturesEnabled bool
	DumpTextures          bool
	CompatibilityMode     bool
	MaxWorkers            int
}

// New creates a Manager that discovers replacements under root in
// fsys and, if cfg.DumpTextures, writes dumps through dumper.
func New(fsys fs.FS, root string, dumper Dumper, cfg Config) (*Manager, error) {
	m := &Manager{
		dumped:            make(map[Hash]struct{}),
		compatibilityMode: cfg.CompatibilityMode,
		enabled:           cfg.CustomTexturesEnabled,
		dumpEnabled:       cfg.DumpTextures,
		fsys:              fsys,
		dumpW:             dumper,
		maxWorkers:        cfg.MaxWorkers,
	}
	if m.maxWorkers <= 0 {
		m.maxWorkers = max(runtime.GOMAXPROCS(0)-1, 1)
	}
	m.workers.SetLimit(m.maxWorkers)
	if !m.enabled {
		return m, nil
	}
	entries, err := Discover(fsys, root)
	if err != nil {
		return nil, err
	}
	m.entries = entries
	return m, nil
}

// hashOf computes the lookup key for raw guest bytes, following
// compatibilityMode: the raw bytes themselves, or a decode-then-hash
// pass when the guest format and RGBA8 must compare equal despite
// differing encodings.
func (m *Manager) hashOf(raw []byte, decodeRGBA func([]byte) []byte) Hash {
	if !m.compatibilityMode || decodeRGBA == nil {
		return ComputeHash(raw)
	}
	return ComputeHash(decodeRGBA(raw))
}

// Lookup returns the decoded replacement bytes for raw guest bytes
// hashing to the entry's key, decoding on first use and caching the
// result. ok is false if custom textures are disabled or no
// replacement matches.
func (m *Manager) Lookup(raw []byte, decodeRGBA func([]byte) []byte) (rgba []byte, passthrough []byte, ok bool) {
	if !m.enabled {
		return nil, nil, false
	}
	h := m.hashOf(raw, decodeRGBA)

	m.mu.Lock()
	e, found := m.entries[h]
	m.mu.Unlock()
	if !found {
		return nil, nil, false
	}

	m.mu.Lock()
	alreadyDecoded := e.decoded
	m.mu.Unlock()
	if !alreadyDecoded {
		// singleflight collapses concurrent lookups of the same
		// hash (two surfaces uploading identical bytes before the
		// first decode finishes) into a single decode call.
		_, err, _ := m.group.Do(h.String(), func() (any, error) {
			return nil, decode(m.fsys, e)
		})
		if err != nil {
			rlog.Error("custom texture decode failed; falling back to guest bytes", map[string]any{
				"hash": h.String(), "path": e.Path, "err": err.Error(),
			})
			return nil, nil, false
		}
	}
	return e.rgba, e.passthrough, true
}

// DumpIfNew queues an asynchronous dump job for raw guest bytes if
// dumping is enabled, the surface is power-of-two sized, and its
// hash has not already been dumped this run. The job runs on the
// worker pool; it never touches cache state, only a value-owned
// snapshot of raw.
func (m *Manager) DumpIfNew(raw []byte, width, height int, format Format) {
	if !m.dumpEnabled || !isPowerOfTwo(width) || !isPowerOfTwo(height) {
		return
	}
	h := ComputeHash(raw)

	m.mu.Lock()
	_, already := m.dumped[h]
	if !already {
		m.dumped[h] = struct{}{}
	}
	m.mu.Unlock()
	if already {
		return
	}

	snapshot := append([]byte(nil), raw...)
	m.workers.Go(func() error {
		encoded, err := encodePNG(snapshot, width, height)
		if err != nil {
			rlog.Error("dump encode failed", map[string]any{"hash": h.String(), "err": err.Error()})
			return nil
		}
		name := DumpFileName(width, height, h, format)
		if err := m.dumpW.WriteDump(name, encoded); err != nil {
			rlog.Error("dump write failed", map[string]any{"hash": h.String(), "name": name, "err": err.Error()})
		}
		return nil
	})
}

// Wait blocks until every queued dump job has completed,
// used by tests and at shutdown.
func (m *Manager) Wait() error {
	return m.workers.Wait()
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// encodePNG packs rgba (tightly packed RGBA8, width*height*4 bytes)
// into a PNG, the on-disk format every dump uses regardless of the
// surface's own pixel format.
func encodePNG(rgba []byte, width, height int) ([]byte, error) {
	img := &image.RGBA{
		Pix:    rgba,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
