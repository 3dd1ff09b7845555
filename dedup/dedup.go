// Package dedup finds duplicate tracks in a scanned media tree by filename
// fingerprint and moves all but one copy of each group into a quarantine
// folder.
package dedup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"seratosync-go/index"
	"seratosync-go/pathnorm"
	"seratosync-go/scanner"
)

// FingerprintMode selects how two tracks are judged to be the same file.
type FingerprintMode int

const (
	// FingerprintOff disables duplicate detection entirely.
	FingerprintOff FingerprintMode = iota
	// FingerprintNameOnly groups by NFC-lowercased filename alone.
	FingerprintNameOnly
	// FingerprintNameAndSize groups by filename and file size.
	FingerprintNameAndSize
)

// ParseFingerprintMode parses a configuration string into a FingerprintMode.
func ParseFingerprintMode(s string) (FingerprintMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return FingerprintOff, nil
	case "name-only":
		return FingerprintNameOnly, nil
	case "name-and-size":
		return FingerprintNameAndSize, nil
	default:
		return FingerprintOff, errors.Errorf("unknown dupe-detection mode %q", s)
	}
}

// MovePolicy selects which file in a duplicate group is kept in place.
type MovePolicy int

const (
	// KeepNewest keeps the file with the maximum mtime.
	KeepNewest MovePolicy = iota
	// KeepOldest keeps the file with the minimum mtime.
	KeepOldest
)

// ParseMovePolicy parses a configuration string into a MovePolicy.
func ParseMovePolicy(s string) (MovePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keep-newest":
		return KeepNewest, nil
	case "keep-oldest":
		return KeepOldest, nil
	default:
		return KeepNewest, errors.Errorf("unknown dupe-move policy %q", s)
	}
}

// Mover scans and moves duplicates.
type Mover struct {
	MusicRoot       string
	QuarantineRoot  string
	Fingerprint     FingerprintMode
	Policy          MovePolicy
	// NowMillis supplies the quarantine run's timestamp directory name.
	NowMillis int64
}

// Result reports what a Run did.
type Result struct {
	// Moved maps original absolute path to the kept absolute path, for
	// every file that was moved out of the group.
	Moved      map[string]string
	Groups     int
	MovedCount int
}

func fingerprintKey(mode FingerprintMode, path string, size int64) (string, bool) {
	switch mode {
	case FingerprintNameOnly:
		return pathnorm.NFCLowerFilename(path), true
	case FingerprintNameAndSize:
		return fmt.Sprintf("%s|%d", pathnorm.NFCLowerFilename(path), size), true
	default:
		return "", false
	}
}

type candidate struct {
	path  string
	mtime int64
	size  int64
}

// Run walks root's track list, groups duplicates by fingerprint, and moves
// every non-kept copy into the quarantine folder. It writes a dupes.log
// summary into this run's quarantine directory (<QuarantineRoot>/<NowMillis>).
func (m *Mover) Run(root *scanner.MediaNode) (*Result, error) {
	if m.Fingerprint == FingerprintOff {
		return &Result{Moved: map[string]string{}}, nil
	}

	groups := make(map[string][]candidate)
	var walk func(n *scanner.MediaNode)
	walk = func(n *scanner.MediaNode) {
		for _, t := range n.Tracks {
			info, err := os.Stat(t)
			if err != nil {
				continue
			}
			key, ok := fingerprintKey(m.Fingerprint, t, info.Size())
			if !ok {
				continue
			}
			groups[key] = append(groups[key], candidate{path: t, mtime: info.ModTime().UnixNano(), size: info.Size()})
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)

	res := &Result{Moved: make(map[string]string)}
	var logLines []string
	quarantineDir := filepath.Join(m.QuarantineRoot, fmt.Sprintf("%d", m.NowMillis))

	var keys []string
	for k, group := range groups {
		if len(group) >= 2 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		group := groups[k]
		sort.Slice(group, func(i, j int) bool { return group[i].mtime < group[j].mtime })

		var keep candidate
		if m.Policy == KeepNewest {
			keep = group[len(group)-1]
		} else {
			keep = group[0]
		}

		res.Groups++
		for _, c := range group {
			if c.path == keep.path {
				continue
			}
			rel, err := filepath.Rel(m.MusicRoot, c.path)
			if err != nil {
				rel = filepath.Base(c.path)
			}
			dest := filepath.Join(quarantineDir, rel)
			if err := moveFile(c.path, dest); err != nil {
				logLines = append(logLines, fmt.Sprintf("FAILED %s -> %s: %v", c.path, dest, err))
				continue
			}
			res.Moved[c.path] = keep.path
			res.MovedCount++
			logLines = append(logLines, fmt.Sprintf("%s -> %s (kept %s)", c.path, dest, keep.path))
		}
	}

	if len(logLines) > 0 {
		if err := os.MkdirAll(quarantineDir, 0o755); err != nil {
			return res, errors.Wrap(err, "create quarantine directory")
		}
		logPath := filepath.Join(quarantineDir, "dupes.log")
		if err := os.WriteFile(logPath, []byte(strings.Join(logLines, "\n")+"\n"), 0o644); err != nil {
			return res, errors.Wrap(err, "write dupes.log")
		}
	}

	return res, nil
}

// ToPathFixes converts a moved map into index PathFixes, so the history
// references in the library index survive the move. encode turns a path
// into the index's on-disk payload form (stripped of volume prefix,
// UTF-16BE); it is applied to both the moved and the kept path.
func ToPathFixes(moved map[string]string, encode func(string) ([]byte, error)) ([]index.PathFix, error) {
	var fixes []index.PathFix
	for oldPath, newPath := range moved {
		oldPayload, err := encode(oldPath)
		if err != nil {
			return nil, err
		}
		newPayload, err := encode(newPath)
		if err != nil {
			return nil, err
		}
		fixes = append(fixes, index.PathFix{Old: oldPayload, New: newPayload})
	}
	return fixes, nil
}

func moveFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	return copyThenDelete(src, dest)
}

func copyThenDelete(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chtimes(dest, info.ModTime(), info.ModTime()); err != nil {
		return err
	}
	return os.Remove(src)
}
