// Package trackindex provides a unified, read-only dedup view over the
// host's library index and the crates already on disk, used to decide
// whether a candidate track is already known to the library.
package trackindex

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"seratosync-go/crate"
	"seratosync-go/index"
	"seratosync-go/pathnorm"
)

// Mode selects how Contains matches a candidate track against the known
// library contents.
type Mode int

const (
	// ModeOff never reports a match; dedup is disabled.
	ModeOff Mode = iota
	// ModePath matches on normalized path and size.
	ModePath
	// ModeFilename matches on NFC-lowercased filename and size.
	ModeFilename
)

// ParseMode parses a configuration string ("off", "path", "filename") into
// a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return ModeOff, nil
	case "path":
		return ModePath, nil
	case "filename":
		return ModeFilename, nil
	default:
		return ModeOff, errors.Errorf("unknown dedup mode %q", s)
	}
}

// Index is the unified dedup view. It satisfies cratetree.DedupChecker and
// crate.PathEncoder.
type Index struct {
	mode Mode
	idx  *index.Index

	cratePaths     map[string]string
	crateFilenames map[string]string
}

// New returns an Index in the given mode, backed by idx (which may be nil
// if no main library index was loaded).
func New(mode Mode, idx *index.Index) *Index {
	return &Index{
		mode:           mode,
		idx:            idx,
		cratePaths:     make(map[string]string),
		crateFilenames: make(map[string]string),
	}
}

func normalizedPath(p string) string {
	return strings.ToLower(pathnorm.NFC(pathnorm.Canonical(p)))
}

// ScanCrates walks every .crate file directly under subcratesDir and folds
// its track paths into the dedup view's second source.
func (t *Index) ScanCrates(subcratesDir string) error {
	entries, err := os.ReadDir(subcratesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "scan existing crates")
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".crate") {
			continue
		}
		c, err := crate.ParseFile(filepath.Join(subcratesDir, e.Name()))
		if err != nil {
			continue
		}
		for _, p := range c.Tracks {
			t.cratePaths[normalizedPath(p)] = p
			t.crateFilenames[pathnorm.NFCLowerFilename(p)] = p
		}
	}
	return nil
}

// Contains reports whether path (with the given size, "" if unknown) is
// already known to the library under the configured mode.
func (t *Index) Contains(path, size string) bool {
	switch t.mode {
	case ModePath:
		if t.idx != nil {
			if _, ok := t.idx.LookupByPath(path, size); ok {
				return true
			}
		}
		_, ok := t.cratePaths[normalizedPath(path)]
		return ok
	case ModeFilename:
		if t.idx != nil {
			if _, ok := t.idx.LookupByFilename(path, size); ok {
				return true
			}
		}
		_, ok := t.crateFilenames[pathnorm.NFCLowerFilename(path)]
		return ok
	default:
		return false
	}
}

// EncodedPath implements crate.PathEncoder, preferring the main index's
// on-record byte encoding and falling back to an existing crate's.
func (t *Index) EncodedPath(nfcLowerFilename string) (string, bool) {
	if t.idx != nil {
		if p, ok := t.idx.EncodedPath(nfcLowerFilename); ok {
			return p, ok
		}
	}
	p, ok := t.crateFilenames[nfcLowerFilename]
	return p, ok
}
