// Package pipeline drives the fixed sync sequence: optional backup, media
// scan, optional dedup move, index load, crate tree build, smart write,
// optional path repair, optional sidebar emit.
package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"seratosync-go/backup"
	"seratosync-go/config"
	"seratosync-go/crate"
	"seratosync-go/cratetree"
	"seratosync-go/dedup"
	"seratosync-go/fixer"
	"seratosync-go/index"
	"seratosync-go/pathnorm"
	"seratosync-go/scanner"
	"seratosync-go/sidebar"
	"seratosync-go/synclog"
	"seratosync-go/tlv"
	"seratosync-go/trackindex"
	"seratosync-go/writer"
)

// Summary reports the counters the orchestrator exposes to external
// collaborators.
type Summary struct {
	TracksFound     int
	BackupBytes     int64
	DuplicatesMoved int
	CratesUpdated   int
	CratesSkipped   int
	PathsFixed      int
	IndexFixed      int
	SidebarEntries  int
}

// Orchestrator runs the fixed sequence for one Config.
type Orchestrator struct {
	Config *config.Config
	Logger synclog.Logger
}

// New returns an Orchestrator. A nil logger is replaced with a no-op one.
func New(cfg *config.Config, logger synclog.Logger) *Orchestrator {
	if logger == nil {
		logger = synclog.Null()
	}
	return &Orchestrator{Config: cfg, Logger: logger}
}

func (o *Orchestrator) databasePath() string {
	return filepath.Join(o.Config.LibraryPath, "database V2")
}

func (o *Orchestrator) subcratesPath() string {
	return filepath.Join(o.Config.LibraryPath, "Subcrates")
}

// Run executes the fixed sequence described by the orchestrator's
// component table and returns the accumulated Summary.
func (o *Orchestrator) Run() (Summary, error) {
	var summary Summary

	if err := o.Config.Validate(); err != nil {
		return summary, errors.Wrap(err, "invalid configuration")
	}

	// 1. optional backup
	if o.Config.Backup {
		n, err := backup.Run(o.Config.LibraryPath, o.Config.BackupRoot, time.Now().UnixMilli())
		if err != nil {
			return summary, errors.Wrap(err, "backup library")
		}
		summary.BackupBytes = n
		o.Logger.Info("backup complete")
	}

	// 2. scan media tree
	sc := scanner.New(o.Logger)
	root, err := sc.Scan(o.Config.MusicRootPath)
	if err != nil {
		return summary, errors.Wrap(err, "scan music root")
	}
	summary.TracksFound = countTracks(root)
	if summary.TracksFound == 0 {
		return summary, errors.New("music root contains no tracks")
	}

	// 3. optional dupe move, then rescan
	if o.Config.DupeScan {
		mode, err := dedup.ParseFingerprintMode(o.Config.DupeDetection)
		if err != nil {
			return summary, err
		}
		if mode != dedup.FingerprintOff && o.Config.DupeMove != "" {
			policy, err := dedup.ParseMovePolicy(o.Config.DupeMove)
			if err != nil {
				return summary, err
			}
			mover := &dedup.Mover{
				MusicRoot:      o.Config.MusicRootPath,
				QuarantineRoot: o.Config.QuarantineRoot,
				Fingerprint:    mode,
				Policy:         policy,
				NowMillis:      time.Now().UnixMilli(),
			}
			result, err := mover.Run(root)
			if err != nil {
				return summary, errors.Wrap(err, "move duplicates")
			}
			summary.DuplicatesMoved = result.MovedCount

			if result.MovedCount > 0 {
				if err := o.applyMovesToIndex(result.Moved); err != nil {
					return summary, err
				}
				root, err = sc.Scan(o.Config.MusicRootPath)
				if err != nil {
					return summary, errors.Wrap(err, "rescan after dedup move")
				}
			}
		}
	}

	// 4. ensure library exists
	if err := os.MkdirAll(o.Config.LibraryPath, 0o755); err != nil {
		return summary, errors.Wrap(err, "create library directory")
	}

	// 5. load index (may be absent)
	idx, err := o.loadIndex()
	if err != nil {
		return summary, err
	}

	// 6. validate parent crate
	if err := cratetree.ValidateParentName(o.Config.ParentCrateName); err != nil {
		return summary, errors.Wrap(err, "invalid parent crate name")
	}
	if err := o.ensureParentCrateStub(); err != nil {
		return summary, err
	}

	// 7. build track index (J), if dedup enabled
	var dedupChecker cratetree.DedupChecker
	var pathEncoder interface {
		EncodedPath(string) (string, bool)
	}
	if o.Config.SkipExisting {
		mode, err := trackindex.ParseMode(o.Config.DedupMode)
		if err != nil {
			return summary, err
		}
		ti := trackindex.New(mode, idx)
		if err := ti.ScanCrates(o.subcratesPath()); err != nil {
			return summary, err
		}
		dedupChecker = ti
		pathEncoder = ti
	} else if idx != nil {
		pathEncoder = idx
	}

	// 8. build crate tree
	built, _ := cratetree.BuildTree(root, o.Config.ParentCrateName, dedupChecker)
	if pathEncoder != nil {
		for _, b := range built {
			b.Crate.Index = pathEncoder
		}
	}

	// 9. optional clear-before-sync
	if o.Config.ClearBeforeSync {
		if err := o.clearLibraryState(); err != nil {
			return summary, err
		}
		// The index file was just deleted, so later stages must not try to
		// repair it from the copy loaded in step 5.
		idx = nil
	}

	// 10. smart-write every crate
	w := writer.New(o.subcratesPath())
	stats, err := w.WriteAll(built)
	if err != nil {
		return summary, errors.Wrap(err, "smart-write crates")
	}
	summary.CratesUpdated = stats.Updated
	summary.CratesSkipped = stats.Skipped

	// 11. optional crate-path fixer
	if o.Config.FixBrokenPaths {
		if o.Config.ClearBeforeSync {
			o.Logger.Info("clear-before-sync ran first; path fixer will find nothing to repair this pass")
		}
		pathsFixed, indexFixed, err := o.runFixer(root, idx)
		if err != nil {
			return summary, err
		}
		summary.PathsFixed = pathsFixed
		summary.IndexFixed = indexFixed
	}

	// 12. optional sidebar-order emitter
	if o.Config.Sort {
		n, err := sidebar.Emit(o.subcratesPath(), filepath.Join(o.Config.LibraryPath, "neworder.pref"))
		if err != nil {
			return summary, errors.Wrap(err, "emit sidebar order")
		}
		summary.SidebarEntries = n
	}

	return summary, nil
}

func countTracks(n *scanner.MediaNode) int {
	total := len(n.Tracks)
	for _, c := range n.Children {
		total += countTracks(c)
	}
	return total
}

func (o *Orchestrator) loadIndex() (*index.Index, error) {
	idx, err := index.ParseFile(o.databasePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "load library index")
	}
	return idx, nil
}

func (o *Orchestrator) ensureParentCrateStub() error {
	name := cratetree.CrateName(o.Config.ParentCrateName).FileName()
	path := filepath.Join(o.subcratesPath(), name)

	matches, err := caseInsensitiveMatches(o.subcratesPath(), name)
	if err != nil {
		return err
	}
	if len(matches) > 1 {
		return errors.Errorf("duplicate parent crate files coexist (case-insensitive): %v", matches)
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(o.subcratesPath(), 0o755); err != nil {
		return errors.Wrap(err, "create subcrates directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create parent crate stub")
	}
	defer f.Close()
	return errors.Wrap(emptyCrateWrite(f), "write parent crate stub")
}

// caseInsensitiveMatches lists every entry in dir whose name matches target
// ignoring case. A nonexistent dir reports no matches rather than an error,
// since the stub hasn't been written yet on a first sync.
func caseInsensitiveMatches(dir, target string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	var matches []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), target) {
			matches = append(matches, e.Name())
		}
	}
	return matches, nil
}

func (o *Orchestrator) clearLibraryState() error {
	for _, dir := range []string{filepath.Join(o.Config.LibraryPath, "Crates"), o.subcratesPath()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "clear %s", dir)
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				return errors.Wrapf(err, "clear %s", dir)
			}
		}
	}
	if err := os.Remove(o.databasePath()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "delete library index")
	}
	return nil
}

func (o *Orchestrator) runFixer(root *scanner.MediaNode, idx *index.Index) (int, int, error) {
	fx := &fixer.Fixer{
		SubcratesDir: o.subcratesPath(),
		VolumeRoot:   o.Config.MusicRootPath,
		Flattened:    flattenByNFCLower(root),
	}
	if idx != nil {
		fx.Index = idx
	}
	fixes, dirty, stats, err := fx.Run()
	if err != nil {
		return 0, 0, errors.Wrap(err, "fix crate paths")
	}

	applied := 0
	if idx != nil && len(fixes) > 0 {
		raw, err := os.ReadFile(o.databasePath())
		if err != nil {
			return 0, 0, errors.Wrap(err, "read library index for repair")
		}
		var patched []byte
		patched, applied, err = index.Apply(raw, fixes)
		if err != nil {
			return 0, 0, errors.Wrap(err, "apply path fixes to index")
		}
		if applied > 0 {
			if err := index.WriteFileAtomic(o.databasePath(), patched); err != nil {
				return 0, 0, errors.Wrap(err, "write repaired index")
			}
		}
	}
	if err := fixer.WriteDirty(dirty); err != nil {
		return 0, 0, err
	}
	return stats.Canonicalized + stats.Rebound, applied, nil
}

func flattenByNFCLower(root *scanner.MediaNode) map[string][]string {
	return scanner.Flatten(root, pathnorm.NFCLowerFilename)
}

func (o *Orchestrator) applyMovesToIndex(moved map[string]string) error {
	idx, err := o.loadIndex()
	if err != nil {
		return err
	}
	if idx == nil {
		return nil
	}
	fixes, err := dedup.ToPathFixes(moved, func(p string) ([]byte, error) {
		return tlv.EncodeU16BE(stripMusicRoot(o.Config.MusicRootPath, p))
	})
	if err != nil {
		return errors.Wrap(err, "encode dedup path fixes")
	}
	raw, err := os.ReadFile(o.databasePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read library index")
	}
	patched, _, err := index.Apply(raw, fixes)
	if err != nil {
		return errors.Wrap(err, "apply dedup path fixes")
	}
	return errors.Wrap(index.WriteFileAtomic(o.databasePath(), patched), "write repaired index")
}

func stripMusicRoot(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}

func emptyCrateWrite(f *os.File) error {
	return crate.New().Write(f)
}
