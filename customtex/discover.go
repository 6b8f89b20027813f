// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package customtex

import (
	"io/fs"
	"regexp"
	"strconv"
	"strings"

	"github.com/handheldemu/rastercache/internal/rlog"
)

// maxDiscoveryDepth bounds how deep Discover recurses into the
// texture directory tree, guarding against a symlink cycle turning
// discovery into an unbounded walk.
const maxDiscoveryDepth = 64

// fileNamePattern matches tex1_<w>x<h>_<hash16>_<fmt>.<ext>, the
// on-disk custom-texture naming convention.
var fileNamePattern = regexp.MustCompile(`^tex1_(\d+)x(\d+)_([0-9a-fA-F]{1,16})_(\d+)\.(png|dds|ktx)$`)

// pathDepth counts the slash-separated components of an fs.FS path
// (always forward-slash, regardless of host OS).
func pathDepth(p string) int {
	if p == "." || p == "" {
		return 0
	}
	return len(strings.Split(p, "/"))
}

// Discover walks root (a title's texture directory) up to
// maxDiscoveryDepth levels deep and parses every file name matching
// the tex1_ convention into an Entry. Pixel data is not decoded
// here; Discover only reads file names, deferring decode to Lookup
// (via the fs.FS interface, so callers can pass an in-memory
// filesystem in tests).
func Discover(fsys fs.FS, root string) (map[Hash]*Entry, error) {
	entries := make(map[Hash]*Entry)
	rootDepth := pathDepth(root)

	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if pathDepth(p)-rootDepth > maxDiscoveryDepth {
				return fs.SkipDir
			}
			return nil
		}
		e, ok := parseFileName(d.Name())
		if !ok {
			return nil
		}
		e.Path = p
		if existing, dup := entries[e.Hash]; dup {
			rlog.Error("custom texture hash collision; discarding later file", map[string]any{
				"hash": e.Hash.String(), "first": existing.Path, "second": e.Path,
			})
			return nil
		}
		entries[e.Hash] = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// parseFileName parses name against fileNamePattern, returning an
// Entry with Path left empty (the caller fills it in).
func parseFileName(name string) (*Entry, bool) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	w, err1 := strconv.Atoi(m[1])
	h, err2 := strconv.Atoi(m[2])
	hashVal, err3 := strconv.ParseUint(m[3], 16, 64)
	fmtVal, err4 := strconv.Atoi(m[4])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return nil, false
	}
	return &Entry{
		Width:  w,
		Height: h,
		Hash:   Hash(hashVal),
		Format: Format(fmtVal),
		Ext:    m[5],
	}, true
}

// DumpFileName formats the name a dumped texture of the given
// shape and hash is written under, per the canonical dump layout.
func DumpFileName(width, height int, hash Hash, format Format) string {
	return "tex1_" + strconv.Itoa(width) + "x" + strconv.Itoa(height) + "_" + hash.String() + "_" + strconv.Itoa(int(format)) + ".png"
}
