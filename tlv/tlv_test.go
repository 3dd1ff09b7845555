package tlv

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b, err := EncodeU16BE("Music/song.mp3")
	require.NoError(t, err)
	require.Equal(t, 28, len(b)) // 14 runes * 2 bytes

	s, err := DecodeU16BE(b)
	require.NoError(t, err)
	require.Equal(t, "Music/song.mp3", s)
}

func TestMakeChunkAndIterTLV(t *testing.T) {
	payload, err := EncodeU16BE("1.0/Serato ScratchLive Crate")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteChunk(&buf, "vrsn", payload))

	chunks, err := IterTLV(&buf)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "vrsn", chunks[0].Tag)
	require.Equal(t, payload, chunks[0].Value)
}

func TestIterNestedTLV(t *testing.T) {
	inner := MakeChunk("ptrk", []byte("abcd"))
	chunks, err := IterNestedTLV(inner)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "ptrk", chunks[0].Tag)
	require.Equal(t, []byte("abcd"), chunks[0].Value)
}

func TestIterNestedTLVOverrun(t *testing.T) {
	buf := MakeChunk("ptrk", []byte("abcd"))
	buf = buf[:len(buf)-2] // truncate the payload
	_, err := IterNestedTLV(buf)
	require.Error(t, err)
}

func TestReaderExpectASCIIMismatch(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("nope")))
	err := r.ExpectASCII("vrsn")
	var mismatch *FormatMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "vrsn", mismatch.Expected)
	require.Equal(t, "nope", mismatch.Actual)
}

func TestReaderExpectASCIICleanEOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	err := r.ExpectASCII("vrsn")
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderExpectASCIITruncated(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("vr")))
	err := r.ExpectASCII("vrsn")
	var truncated *TruncatedError
	require.ErrorAs(t, err, &truncated)
}

func TestReaderFixedWidthInts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUint8(&buf, 0xAB))
	require.NoError(t, WriteUint16(&buf, 0x1234))
	require.NoError(t, WriteUint32(&buf, 0xCAFEBABE))
	require.NoError(t, WriteUint40(&buf, 1<<8))

	r := NewReader(&buf)
	u8, err := r.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xAB), u8)

	u16, err := r.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), u16)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xCAFEBABE), u32)

	u40, err := r.ReadUint40()
	require.NoError(t, err)
	require.Equal(t, uint64(1<<8), u40)
}
