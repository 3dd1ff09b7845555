// Program seratosync syncs a music directory tree into a Serato library:
// it writes crate files per directory, repairs broken path references, and
// optionally deduplicates tracks before syncing.
//
// Example usage:
//   seratosync -music-root ~/Music -library-path ~/Music/_Serato_ -parent Current
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"seratosync-go/config"
	"seratosync-go/pipeline"
	"seratosync-go/synclog"
)

func main() {
	var (
		configPath      = flag.String("config", "", "path to a config.json; explicitly set flags override it, and boolean flags can only switch its options on")
		musicRoot       = flag.String("music-root", "", "directory to scan for tracks")
		libraryPath     = flag.String("library-path", "", "host library directory")
		parentCrate     = flag.String("parent", "Current", "parent crate name (%% separates segments)")
		backup          = flag.Bool("backup", false, "snapshot the library before syncing")
		backupRoot      = flag.String("backup-root", "", "directory to place library snapshots in")
		clearBeforeSync = flag.Bool("clear-before-sync", false, "delete existing crates and index before syncing")
		skipExisting    = flag.Bool("skip-existing", false, "enable the track dedup index (J)")
		dedupMode       = flag.String("dedup-mode", "off", "off, path, or filename")
		fixBrokenPaths  = flag.Bool("fix-broken-paths", false, "rebind broken crate track references")
		sortSidebar     = flag.Bool("sort", false, "rewrite the sidebar ordering manifest")
		dupeScan        = flag.Bool("dupe-scan", false, "scan and move duplicate tracks before syncing")
		dupeDetection   = flag.String("dupe-detection", "off", "off, name-only, or name-and-size")
		dupeMove        = flag.String("dupe-move", "", "keep-newest or keep-oldest")
		quarantineRoot  = flag.String("quarantine-root", "", "directory duplicate tracks are moved into")
	)
	flag.Parse()

	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	if *musicRoot != "" {
		cfg.MusicRootPath = *musicRoot
	}
	if *libraryPath != "" {
		cfg.LibraryPath = *libraryPath
	}
	if *parentCrate != "" && (explicit["parent"] || len(cfg.ParentCrateName) == 0) {
		cfg.ParentCrateName = strings.Split(*parentCrate, "%%")
	}
	cfg.Backup = cfg.Backup || *backup
	if *backupRoot != "" {
		cfg.BackupRoot = *backupRoot
	}
	cfg.ClearBeforeSync = cfg.ClearBeforeSync || *clearBeforeSync
	cfg.SkipExisting = cfg.SkipExisting || *skipExisting
	if *dedupMode != "" && (explicit["dedup-mode"] || cfg.DedupMode == "") {
		cfg.DedupMode = *dedupMode
	}
	cfg.FixBrokenPaths = cfg.FixBrokenPaths || *fixBrokenPaths
	cfg.Sort = cfg.Sort || *sortSidebar
	cfg.DupeScan = cfg.DupeScan || *dupeScan
	if *dupeDetection != "" && (explicit["dupe-detection"] || cfg.DupeDetection == "") {
		cfg.DupeDetection = *dupeDetection
	}
	if *dupeMove != "" {
		cfg.DupeMove = *dupeMove
	}
	if *quarantineRoot != "" {
		cfg.QuarantineRoot = *quarantineRoot
	}

	logger := synclog.NewConsole()
	orch := pipeline.New(cfg, logger)

	summary, err := orch.Run()
	if err != nil {
		logger.Fatal(err)
		os.Exit(1)
	}

	fmt.Printf(
		"tracks found: %d, crates updated: %d, crates skipped: %d, paths fixed: %d, duplicates moved: %d\n",
		summary.TracksFound, summary.CratesUpdated, summary.CratesSkipped, summary.PathsFixed, summary.DuplicatesMoved,
	)
}
