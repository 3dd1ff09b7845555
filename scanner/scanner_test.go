package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestScanBuildsDeterministicTree(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "A.mp3"))
	touch(t, filepath.Join(root, "Genre", "Track.flac"))
	touch(t, filepath.Join(root, "Genre", "SubGenre", "Deep.wav"))
	touch(t, filepath.Join(root, "Zeta", "Last.mp3"))
	touch(t, filepath.Join(root, "Genre", "notes.txt")) // not media

	s := New(nil)
	node, err := s.Scan(root)
	require.NoError(t, err)

	require.Len(t, node.Tracks, 1)
	require.Len(t, node.Children, 2)
	require.Equal(t, "Genre", node.Children[0].Name)
	require.Equal(t, "Zeta", node.Children[1].Name)

	genre := node.Children[0]
	require.Len(t, genre.Tracks, 1)
	require.Len(t, genre.Children, 1)
	require.Equal(t, "SubGenre", genre.Children[0].Name)
	require.Len(t, genre.Children[0].Tracks, 1)
}

// TestScanWideBranchingTreeDoesNotDeadlock builds a tree wider than the
// scanner's concurrency of 4 (5 root subdirs, each with 2 subdirectories
// holding one track) — a shape where a semaphore held across a recursive
// fan-out would starve itself.
func TestScanWideBranchingTreeDoesNotDeadlock(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		branch := filepath.Join(root, fmt.Sprintf("Branch%d", i))
		for j := 0; j < 2; j++ {
			touch(t, filepath.Join(branch, fmt.Sprintf("Sub%d", j), "Track.mp3"))
		}
	}

	s := New(nil)
	s.Concurrency = 4

	done := make(chan struct{})
	var node *MediaNode
	var scanErr error
	go func() {
		node, scanErr = s.Scan(root)
		close(done)
	}()

	select {
	case <-done:
		require.NoError(t, scanErr)
		require.Len(t, node.Children, 5)
		for _, branch := range node.Children {
			require.Len(t, branch.Children, 2)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Scan deadlocked on a wide branching tree")
	}
}

func TestIsMediaFile(t *testing.T) {
	require.True(t, IsMediaFile("/a/B.MP3"))
	require.True(t, IsMediaFile("/a/b.flac"))
	require.False(t, IsMediaFile("/a/b.txt"))
}

func TestFlatten(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "A.mp3"))
	touch(t, filepath.Join(root, "Genre", "B.mp3"))

	s := New(nil)
	node, err := s.Scan(root)
	require.NoError(t, err)

	flat := Flatten(node, func(p string) string { return filepath.Base(p) })
	require.Contains(t, flat, "A.mp3")
	require.Contains(t, flat, "B.mp3")
}
