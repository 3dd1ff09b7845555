package cratetree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"seratosync-go/scanner"
)

type fakeDedup map[string]bool

func (f fakeDedup) Contains(path, size string) bool { return f[path] }

func tree() *scanner.MediaNode {
	return &scanner.MediaNode{
		Name:   "",
		Tracks: []string{"/lib/A.mp3"},
		Children: []*scanner.MediaNode{
			{
				Name:   "Genre",
				Tracks: []string{"/lib/Genre/B.mp3"},
				Children: []*scanner.MediaNode{
					{Name: "SubGenre", Tracks: []string{"/lib/Genre/SubGenre/C.mp3"}},
				},
			},
		},
	}
}

func TestBuildTreeHierarchicalNames(t *testing.T) {
	built, stats := BuildTree(tree(), []string{"Current"}, nil)
	require.Len(t, built, 3)

	require.Equal(t, CrateName{"Current"}, built[0].Name)
	require.Equal(t, []string{"/lib/A.mp3"}, built[0].Crate.Tracks)

	require.Equal(t, CrateName{"Current", "Genre"}, built[1].Name)
	require.Equal(t, "Current%%Genre", built[1].Name.String())

	require.Equal(t, CrateName{"Current", "Genre", "SubGenre"}, built[2].Name)
	require.Equal(t, 0, stats.SkippedExisting)
}

func TestBuildTreeDoesNotPropagateDescendantTracks(t *testing.T) {
	built, _ := BuildTree(tree(), nil, nil)
	genre := built[1]
	require.Equal(t, []string{"/lib/Genre/B.mp3"}, genre.Crate.Tracks)
}

func TestBuildTreeCountsDedupHits(t *testing.T) {
	dedup := fakeDedup{"/lib/Genre/B.mp3": true}
	_, stats := BuildTree(tree(), []string{"Current"}, dedup)
	require.Equal(t, 1, stats.SkippedExisting)
}

func TestValidateParentNameRejectsDelimiter(t *testing.T) {
	require.Error(t, ValidateParentName([]string{"Cur%%rent"}))
	require.NoError(t, ValidateParentName([]string{"Current", "Library"}))
}

func TestFileName(t *testing.T) {
	name := CrateName{"Current", "Genre"}
	require.Equal(t, "Current%%Genre.crate", name.FileName())
}
