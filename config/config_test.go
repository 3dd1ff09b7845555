package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRequiresPaths(t *testing.T) {
	c := &Config{}
	require.Error(t, c.Validate())

	c = &Config{MusicRootPath: "/music", LibraryPath: "/library"}
	require.NoError(t, c.Validate())
}

func TestValidateRejectsDelimiterInParentCrate(t *testing.T) {
	c := &Config{MusicRootPath: "/music", LibraryPath: "/library", ParentCrateName: []string{"Cur%%rent"}}
	require.Error(t, c.Validate())
}

func TestSaveAndLoadConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	c := &Config{
		MusicRootPath:   "/music",
		LibraryPath:     "/library",
		ParentCrateName: []string{"Current"},
		DedupMode:       "filename",
	}
	require.NoError(t, SaveConfig(path, c))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, c, loaded)
}

func TestLoadConfigMissingFileReturnsEmpty(t *testing.T) {
	loaded, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Equal(t, &Config{}, loaded)
}
