package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"seratosync-go/config"
	"seratosync-go/crate"
)

func writeTrack(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestRunBuildsAndWritesCrateTree(t *testing.T) {
	musicRoot := t.TempDir()
	libraryRoot := t.TempDir()

	writeTrack(t, filepath.Join(musicRoot, "A.mp3"))
	writeTrack(t, filepath.Join(musicRoot, "Genre", "B.mp3"))

	cfg := &config.Config{
		MusicRootPath:   musicRoot,
		LibraryPath:     libraryRoot,
		ParentCrateName: []string{"Current"},
	}

	o := New(cfg, nil)
	summary, err := o.Run()
	require.NoError(t, err)
	require.Equal(t, 2, summary.TracksFound)
	require.Equal(t, 2, summary.CratesUpdated)

	require.FileExists(t, filepath.Join(libraryRoot, "Subcrates", "Current.crate"))
	require.FileExists(t, filepath.Join(libraryRoot, "Subcrates", "Current%%Genre.crate"))
}

func TestRunSkipsUnchangedCratesOnSecondPass(t *testing.T) {
	musicRoot := t.TempDir()
	libraryRoot := t.TempDir()
	writeTrack(t, filepath.Join(musicRoot, "A.mp3"))

	cfg := &config.Config{MusicRootPath: musicRoot, LibraryPath: libraryRoot, ParentCrateName: []string{"Current"}}
	o := New(cfg, nil)

	_, err := o.Run()
	require.NoError(t, err)

	summary, err := o.Run()
	require.NoError(t, err)
	require.Equal(t, 0, summary.CratesUpdated)
	require.Equal(t, 1, summary.CratesSkipped)
}

func TestRunFailsOnEmptyMusicRoot(t *testing.T) {
	musicRoot := t.TempDir()
	libraryRoot := t.TempDir()
	cfg := &config.Config{MusicRootPath: musicRoot, LibraryPath: libraryRoot}
	o := New(cfg, nil)
	_, err := o.Run()
	require.Error(t, err)
}

func TestRunClearBeforeSyncRemovesStaleCrates(t *testing.T) {
	musicRoot := t.TempDir()
	libraryRoot := t.TempDir()
	writeTrack(t, filepath.Join(musicRoot, "A.mp3"))

	subcrates := filepath.Join(libraryRoot, "Subcrates")
	require.NoError(t, os.MkdirAll(subcrates, 0o755))
	stale := crate.New()
	f, err := os.Create(filepath.Join(subcrates, "Stale.crate"))
	require.NoError(t, err)
	require.NoError(t, stale.Write(f))
	require.NoError(t, f.Close())

	cfg := &config.Config{
		MusicRootPath:   musicRoot,
		LibraryPath:     libraryRoot,
		ParentCrateName: []string{"Current"},
		ClearBeforeSync: true,
	}
	o := New(cfg, nil)
	_, err = o.Run()
	require.NoError(t, err)

	require.NoFileExists(t, filepath.Join(subcrates, "Stale.crate"))
	require.FileExists(t, filepath.Join(subcrates, "Current.crate"))
}

func TestRunRejectsInvalidParentCrateName(t *testing.T) {
	musicRoot := t.TempDir()
	libraryRoot := t.TempDir()
	writeTrack(t, filepath.Join(musicRoot, "A.mp3"))

	cfg := &config.Config{MusicRootPath: musicRoot, LibraryPath: libraryRoot, ParentCrateName: []string{"Cur%%rent"}}
	o := New(cfg, nil)
	_, err := o.Run()
	require.Error(t, err)
}

func TestRunRejectsDuplicateParentCrateCaseInsensitive(t *testing.T) {
	musicRoot := t.TempDir()
	libraryRoot := t.TempDir()
	writeTrack(t, filepath.Join(musicRoot, "A.mp3"))

	subcrates := filepath.Join(libraryRoot, "Subcrates")
	require.NoError(t, os.MkdirAll(subcrates, 0o755))
	for _, name := range []string{"Current.crate", "CURRENT.crate"} {
		c := crate.New()
		f, err := os.Create(filepath.Join(subcrates, name))
		require.NoError(t, err)
		require.NoError(t, c.Write(f))
		require.NoError(t, f.Close())
	}

	cfg := &config.Config{MusicRootPath: musicRoot, LibraryPath: libraryRoot, ParentCrateName: []string{"Current"}}
	o := New(cfg, nil)
	_, err := o.Run()
	require.Error(t, err)
}

func TestRunRescanAfterDedupMoveNeverReferencesPreMovePaths(t *testing.T) {
	musicRoot := t.TempDir()
	libraryRoot := t.TempDir()

	oldTrack := filepath.Join(musicRoot, "Old", "Track.mp3")
	newTrack := filepath.Join(musicRoot, "New", "Track.mp3")
	writeTrack(t, oldTrack)
	writeTrack(t, newTrack)
	olderStamp := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	newerStamp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(oldTrack, olderStamp, olderStamp))
	require.NoError(t, os.Chtimes(newTrack, newerStamp, newerStamp))

	quarantine := t.TempDir()
	cfg := &config.Config{
		MusicRootPath:   musicRoot,
		LibraryPath:     libraryRoot,
		ParentCrateName: []string{"Current"},
		DupeScan:        true,
		DedupMode:       "off",
		DupeDetection:   "name-only",
		DupeMove:        "keep-newest",
		QuarantineRoot:  quarantine,
	}
	o := New(cfg, nil)
	summary, err := o.Run()
	require.NoError(t, err)
	require.Equal(t, 1, summary.DuplicatesMoved)

	oldPath, err := filepath.Abs(filepath.Join(musicRoot, "Old", "Track.mp3"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(libraryRoot, "Subcrates"))
	require.NoError(t, err)
	for _, e := range entries {
		c, err := crate.ParseFile(filepath.Join(libraryRoot, "Subcrates", e.Name()))
		require.NoError(t, err)
		for _, track := range c.Tracks {
			require.NotEqual(t, oldPath, track, "crate %s still references the pre-move path", e.Name())
		}
	}
}
