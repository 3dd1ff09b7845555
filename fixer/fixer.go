// Package fixer repairs broken or stale track paths inside existing crate
// files: it rebinds moved tracks by filename and keeps the main library
// index in step with whatever path each crate ends up recording.
package fixer

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"seratosync-go/crate"
	"seratosync-go/index"
	"seratosync-go/pathnorm"
	"seratosync-go/tlv"
)

// FilenameEncoder exposes the host's on-record byte encoding for a path, by
// NFC-lowercased filename. Satisfied by *index.Index.
type FilenameEncoder interface {
	EncodedPath(nfcLowerFilename string) (string, bool)
	LookupByFilename(path, size string) ([]byte, bool)
}

// Dirty is one crate whose track list changed and needs to be written back
// verbatim (not through the smart writer).
type Dirty struct {
	Path  string
	Crate *crate.Crate
}

// Stats tallies what a fixer pass did.
type Stats struct {
	Canonicalized int
	Rebound       int
	Broken        int
}

// Fixer repairs the crates in SubcratesDir.
type Fixer struct {
	SubcratesDir string
	// VolumeRoot is prepended to a relative in-crate path to test existence
	// and to resolve the directory of a rebound path.
	VolumeRoot string
	// Flattened maps an NFC-lowercased filename to every resolved track
	// path the scanner found carrying it (scanner.Flatten's output).
	Flattened map[string][]string
	Index     FilenameEncoder
}

// Run scans every crate file in SubcratesDir in parallel and returns the
// index PathFixes to apply and the crates that need to be rewritten. The
// PathFix accumulator and Dirty list are insert-only during this scan
// phase, guarded by a single mutex; per-crate counters are accumulated the
// same way.
func (f *Fixer) Run() ([]index.PathFix, []Dirty, Stats, error) {
	entries, err := os.ReadDir(f.SubcratesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, Stats{}, nil
		}
		return nil, nil, Stats{}, errors.Wrap(err, "list crates")
	}

	var (
		mu    sync.Mutex
		fixes []index.PathFix
		dirty []Dirty
		stats Stats
		eg    errgroup.Group
	)

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".crate") {
			continue
		}
		name := e.Name()
		eg.Go(func() error {
			path := filepath.Join(f.SubcratesDir, name)
			c, err := crate.ParseFile(path)
			if err != nil {
				return nil
			}

			var localFixes []index.PathFix
			var local Stats
			changed := false

			for i, track := range c.Tracks {
				resolved, ok := f.resolve(track)
				if ok {
					canon := pathnorm.Canonical(resolved)
					if canon != track {
						c.Tracks[i] = canon
						changed = true
						local.Canonicalized++
					}
					if fix, ok := f.indexFixFor(track, canon); ok {
						localFixes = append(localFixes, fix)
					}
					continue
				}

				rebound, ok := f.rebind(track)
				if !ok {
					local.Broken++
					continue
				}
				if fix, ok := f.indexFixFor(track, rebound); ok {
					localFixes = append(localFixes, fix)
				}
				c.Tracks[i] = rebound
				changed = true
				local.Rebound++
			}

			mu.Lock()
			fixes = append(fixes, localFixes...)
			stats.Canonicalized += local.Canonicalized
			stats.Rebound += local.Rebound
			stats.Broken += local.Broken
			if changed {
				dirty = append(dirty, Dirty{Path: path, Crate: c})
			}
			mu.Unlock()

			return nil
		})
	}
	// Per-crate work never returns a non-nil error (parse failures are
	// skipped, not propagated), so Wait cannot fail.
	_ = eg.Wait()

	return fixes, dirty, stats, nil
}

// resolve reports whether track exists on disk, either directly or after
// prepending VolumeRoot for a relative path, returning the resolved
// absolute path.
func (f *Fixer) resolve(track string) (string, bool) {
	candidate := track
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(f.VolumeRoot, candidate)
	}
	if _, err := os.Stat(candidate); err == nil {
		return candidate, true
	}
	return "", false
}

// rebind looks up track's leaf in the flattened media tree and, if found,
// builds a path combining the new directory with the host's on-record
// filename bytes.
func (f *Fixer) rebind(track string) (string, bool) {
	leaf := pathnorm.NFCLowerFilename(track)
	candidates := f.Flattened[leaf]
	if len(candidates) == 0 {
		return "", false
	}

	newDir := filepath.Dir(f.stripVolumeRoot(candidates[0]))
	filename := pathnorm.Filename(track)
	if f.Index != nil {
		if decoded, ok := f.Index.EncodedPath(leaf); ok {
			filename = pathnorm.Filename(decoded)
		}
	}
	return filepath.ToSlash(filepath.Join(newDir, filename)), true
}

func (f *Fixer) stripVolumeRoot(p string) string {
	if f.VolumeRoot == "" {
		return pathnorm.Canonical(p)
	}
	rel, err := filepath.Rel(f.VolumeRoot, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return pathnorm.Canonical(p)
	}
	return filepath.ToSlash(rel)
}

// indexFixFor builds a PathFix for the index if it carries a pfil payload
// for this filename that differs from newPath.
func (f *Fixer) indexFixFor(oldInFilePath, newPath string) (index.PathFix, bool) {
	if f.Index == nil {
		return index.PathFix{}, false
	}
	raw, ok := f.Index.LookupByFilename(oldInFilePath, "")
	if !ok {
		return index.PathFix{}, false
	}
	decoded, err := tlv.DecodeU16BE(raw)
	if err != nil || decoded == newPath {
		return index.PathFix{}, false
	}
	newPayload, err := tlv.EncodeU16BE(newPath)
	if err != nil {
		return index.PathFix{}, false
	}
	return index.PathFix{Old: raw, New: newPayload}, true
}

// WriteDirty writes each dirty crate back to disk verbatim, outside the
// smart-write pass.
func WriteDirty(dirty []Dirty) error {
	for _, d := range dirty {
		f, err := os.Create(d.Path)
		if err != nil {
			return errors.Wrapf(err, "rewrite crate %s", d.Path)
		}
		err = d.Crate.Write(f)
		closeErr := f.Close()
		if err != nil {
			return errors.Wrapf(err, "rewrite crate %s", d.Path)
		}
		if closeErr != nil {
			return errors.Wrapf(closeErr, "rewrite crate %s", d.Path)
		}
	}
	return nil
}
