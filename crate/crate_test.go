package crate

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"seratosync-go/tlv"
)

func TestEmptyCrateRoundTrip(t *testing.T) {
	c := New()

	var buf bytes.Buffer
	require.NoError(t, c.Write(&buf))

	parsed, err := Parse(&buf)
	require.NoError(t, err)
	require.Equal(t, DefaultVersion, parsed.Version)
	require.Equal(t, DefaultSortKey, parsed.SortKey)
	require.EqualValues(t, DefaultSortRev, parsed.SortRev)
	require.Equal(t, DefaultColumns(), parsed.Columns)
	require.Empty(t, parsed.Tracks)
}

func TestThreeTrackCrateWritesCanonicalPaths(t *testing.T) {
	c := New()
	c.AddTrack("/Volumes/V/Music/A.mp3")
	c.AddTrack("/Volumes/V/Music/B.mp3")
	c.AddTrack("Music/C.mp3")

	var buf bytes.Buffer
	require.NoError(t, c.Write(&buf))

	chunks, err := tlv.IterTLV(&buf)
	require.NoError(t, err)

	var got []string
	for _, chunk := range chunks {
		if chunk.Tag != "otrk" {
			continue
		}
		nested, err := tlv.IterNestedTLV(chunk.Value)
		require.NoError(t, err)
		for _, n := range nested {
			if n.Tag == "ptrk" {
				s, err := tlv.DecodeU16BE(n.Value)
				require.NoError(t, err)
				got = append(got, s)
			}
		}
	}

	require.Equal(t, []string{"Music/A.mp3", "Music/B.mp3", "Music/C.mp3"}, got)
}

func TestAddTrackDedupsByLeaf(t *testing.T) {
	c := New()
	require.True(t, c.AddTrack("/Volumes/V/Music/A.mp3"))
	require.False(t, c.AddTrack("/Other/Path/a.mp3"))
	require.Len(t, c.Tracks, 1)
}

func TestSemanticRoundTrip(t *testing.T) {
	c := New()
	c.SortKey = "artist"
	c.SortRev = 5
	c.Columns = []string{"song", "artist"}
	c.AddTrack(`C:\Music\A.mp3`)
	c.AddTrack("Music/B.mp3")

	var buf bytes.Buffer
	require.NoError(t, c.Write(&buf))
	parsed, err := Parse(&buf)
	require.NoError(t, err)

	var buf2 bytes.Buffer
	require.NoError(t, parsed.Write(&buf2))
	reparsed, err := Parse(&buf2)
	require.NoError(t, err)

	require.True(t, parsed.Equal(reparsed))
}

func TestEqualityIgnoresAbsoluteVsRelative(t *testing.T) {
	a := New()
	a.AddTrack("/Volumes/V/Music/A.mp3")
	b := New()
	b.AddTrack("Music/A.mp3")
	require.True(t, a.Equal(b))
}

func TestShortFormOsrt(t *testing.T) {
	var buf bytes.Buffer
	versionBytes, _ := tlv.EncodeU16BE(DefaultVersion)
	literalBytes, _ := tlv.EncodeU16BE(crateLiteral)
	require.NoError(t, tlv.WriteChunk(&buf, "vrsn", append(versionBytes, literalBytes...)))

	var revBuf bytes.Buffer
	require.NoError(t, tlv.WriteUint40(&revBuf, 7))
	require.NoError(t, tlv.WriteChunk(&buf, "osrt", tlv.MakeChunk("brev", revBuf.Bytes())))

	parsed, err := Parse(&buf)
	require.NoError(t, err)
	require.Equal(t, DefaultSortKey, parsed.SortKey)
	require.EqualValues(t, 7, parsed.SortRev)
}
