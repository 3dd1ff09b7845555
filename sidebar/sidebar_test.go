package sidebar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"seratosync-go/tlv"
)

func TestEmitSortsAndFrames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Current%%Genre.crate", "Current.crate", "Zeta.crate", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	out := filepath.Join(dir, "neworder.pref")
	count, err := Emit(dir, out)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	decoded, err := tlv.DecodeU16BE(raw)
	require.NoError(t, err)

	require.Equal(t, "[begin record]\n[crate]Current\n[crate]Current%%Genre\n[crate]Zeta\n[end record]\n", decoded)
}

func TestEmitOverwritesStaleFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "neworder.pref")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0o644))

	_, err := Emit(dir, out)
	require.NoError(t, err)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NotEqual(t, []byte("stale"), raw)
}
