// Package tlv implements the big-endian tagged-length-value primitives
// shared by the crate, index, and session codecs.
package tlv

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Chunk is one tagged block: a 4-byte ASCII tag, a big-endian length, and a
// payload of that many bytes.
type Chunk struct {
	Tag   string
	Size  uint32
	Value []byte
}

// MakeChunk builds a TLV chunk as a byte slice: tag, big-endian length,
// payload.
func MakeChunk(tag string, payload []byte) []byte {
	out := make([]byte, 0, 8+len(payload))
	out = append(out, []byte(tag)...)
	var lengthBytes [4]byte
	binary.BigEndian.PutUint32(lengthBytes[:], uint32(len(payload)))
	out = append(out, lengthBytes[:]...)
	out = append(out, payload...)
	return out
}

// WriteChunk writes a TLV chunk to w.
func WriteChunk(w io.Writer, tag string, payload []byte) error {
	_, err := w.Write(MakeChunk(tag, payload))
	return err
}

// EncodeU16BE encodes a string to UTF-16BE without a byte-order mark.
func EncodeU16BE(s string) ([]byte, error) {
	enc := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder()
	b, err := enc.Bytes([]byte(s))
	if err != nil {
		return nil, errors.Wrap(err, "encode utf-16be")
	}
	return b, nil
}

// DecodeU16BE decodes a UTF-16BE byte slice (no BOM) to a string.
func DecodeU16BE(b []byte) (string, error) {
	r := transform.NewReader(bytes.NewReader(b), unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder())
	out, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrap(err, "decode utf-16be")
	}
	return string(out), nil
}

// IterTLV reads a flat sequence of top-level TLV chunks from r until clean
// EOF. A truncated header or payload is reported as io.ErrUnexpectedEOF.
func IterTLV(r io.Reader) ([]*Chunk, error) {
	var chunks []*Chunk
	for {
		header := make([]byte, 8)
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(io.ErrUnexpectedEOF, "read chunk header")
		}

		tag := string(header[0:4])
		size := binary.BigEndian.Uint32(header[4:8])

		value := make([]byte, size)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, errors.Wrapf(io.ErrUnexpectedEOF, "read chunk value for tag %s", tag)
		}

		chunks = append(chunks, &Chunk{Tag: tag, Size: size, Value: value})
	}
	return chunks, nil
}

// IterNestedTLV iterates over TLV chunks packed inside an in-memory buffer
// (used for payloads that themselves contain nested tagged fields).
func IterNestedTLV(buf []byte) ([]*Chunk, error) {
	var chunks []*Chunk
	pos := 0
	n := len(buf)
	for pos+8 <= n {
		tag := string(buf[pos : pos+4])
		size := binary.BigEndian.Uint32(buf[pos+4 : pos+8])
		start := pos + 8
		end := start + int(size)
		if end > n {
			return chunks, errors.Wrapf(io.ErrUnexpectedEOF, "nested chunk %s overruns buffer", tag)
		}
		chunks = append(chunks, &Chunk{Tag: tag, Size: size, Value: buf[start:end]})
		pos = end
	}
	return chunks, nil
}
