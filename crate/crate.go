// Package crate implements the Serato crate file codec: parsing, building,
// equality comparison, and serialization of *.crate playlist files.
package crate

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"seratosync-go/pathnorm"
	"seratosync-go/tlv"
)

// DefaultVersion is the crate format version written for newly built crates.
const DefaultVersion = "81.0"

// DefaultSortKey is the sort column written for newly built crates.
const DefaultSortKey = "song"

// DefaultSortRev is the sort revision written for newly built crates.
const DefaultSortRev = 1 << 8

// crateLiteral is the fixed UTF-16BE literal that follows the version string
// in every crate header.
const crateLiteral = "/Serato ScratchLive Crate"

// DefaultColumns is the column list written for newly built crates.
func DefaultColumns() []string {
	return []string{"song", "artist", "album", "length"}
}

// PathEncoder resolves the host's on-disk byte encoding for a track, keyed
// by its NFC-lowercased filename. A Crate holds an optional, non-owning
// reference to one so that freshly written tracks reuse the exact Unicode
// form the index already has on file.
type PathEncoder interface {
	EncodedPath(nfcLowerFilename string) (string, bool)
}

// Crate is the in-memory representation of one crate file.
type Crate struct {
	Version string
	SortKey string
	SortRev uint64
	Columns []string
	Tracks  []string

	// Index is consulted (if non-nil) when serializing tracks, to prefer
	// the host's existing pfil byte-encoding over a freshly canonicalized
	// path.
	Index PathEncoder

	leafSeen map[string]struct{}
}

// New returns an empty crate populated with the default version, sort key,
// sort revision, and column set.
func New() *Crate {
	return &Crate{
		Version: DefaultVersion,
		SortKey: DefaultSortKey,
		SortRev: DefaultSortRev,
		Columns: DefaultColumns(),
	}
}

// AddTrack appends path to the crate's track list unless a track with the
// same NFC-lowercased filename is already present, in which case it is
// rejected and AddTrack returns false.
func (c *Crate) AddTrack(path string) bool {
	if c.leafSeen == nil {
		c.leafSeen = make(map[string]struct{}, len(c.Tracks))
		for _, t := range c.Tracks {
			c.leafSeen[pathnorm.NFCLowerFilename(t)] = struct{}{}
		}
	}
	leaf := pathnorm.NFCLowerFilename(path)
	if _, dup := c.leafSeen[leaf]; dup {
		return false
	}
	c.leafSeen[leaf] = struct{}{}
	c.Tracks = append(c.Tracks, path)
	return true
}

// Equal reports whether two crates are semantically equal: same version,
// sort key, sort revision, column list, and canonical-form track lists.
func (c *Crate) Equal(other *Crate) bool {
	if other == nil {
		return false
	}
	if c.Version != other.Version || c.SortKey != other.SortKey || c.SortRev != other.SortRev {
		return false
	}
	if len(c.Columns) != len(other.Columns) {
		return false
	}
	for i := range c.Columns {
		if c.Columns[i] != other.Columns[i] {
			return false
		}
	}
	if len(c.Tracks) != len(other.Tracks) {
		return false
	}
	for i := range c.Tracks {
		if pathnorm.Canonical(c.Tracks[i]) != pathnorm.Canonical(other.Tracks[i]) {
			return false
		}
	}
	return true
}

// trackPathForWrite resolves the byte-form path to serialize for one track,
// preferring the crate's Index-supplied encoding when available.
func (c *Crate) trackPathForWrite(path string) string {
	canon := pathnorm.Canonical(path)
	if c.Index != nil {
		if encoded, ok := c.Index.EncodedPath(pathnorm.NFCLowerFilename(path)); ok {
			return encoded
		}
	}
	return canon
}

// Write serializes the crate to w.
func (c *Crate) Write(w io.Writer) error {
	version := c.Version
	if version == "" {
		version = DefaultVersion
	}

	versionBytes, err := tlv.EncodeU16BE(version)
	if err != nil {
		return errors.Wrap(err, "encode crate version")
	}
	literalBytes, err := tlv.EncodeU16BE(crateLiteral)
	if err != nil {
		return errors.Wrap(err, "encode crate literal")
	}
	if err := tlv.WriteChunk(w, "vrsn", append(append([]byte{}, versionBytes...), literalBytes...)); err != nil {
		return errors.Wrap(err, "write vrsn header")
	}

	sortKey := c.SortKey
	if sortKey == "" {
		sortKey = DefaultSortKey
	}
	sortRev := c.SortRev
	if sortRev == 0 {
		sortRev = DefaultSortRev
	}
	sortNameBytes, err := tlv.EncodeU16BE(sortKey)
	if err != nil {
		return errors.Wrap(err, "encode sort key")
	}
	var sortRevBytes bytes.Buffer
	if err := tlv.WriteUint40(&sortRevBytes, sortRev); err != nil {
		return err
	}
	var osrtPayload bytes.Buffer
	osrtPayload.Write(tlv.MakeChunk("tvcn", sortNameBytes))
	osrtPayload.Write(tlv.MakeChunk("brev", sortRevBytes.Bytes()))
	if err := tlv.WriteChunk(w, "osrt", osrtPayload.Bytes()); err != nil {
		return errors.Wrap(err, "write osrt")
	}

	columns := c.Columns
	if len(columns) == 0 {
		columns = DefaultColumns()
	}
	for _, col := range columns {
		nameBytes, err := tlv.EncodeU16BE(col)
		if err != nil {
			return errors.Wrapf(err, "encode column %s", col)
		}
		var ovctPayload bytes.Buffer
		ovctPayload.Write(tlv.MakeChunk("tvcn", nameBytes))
		ovctPayload.Write(tlv.MakeChunk("tvcw", []byte{0x00, 0x00}))
		if err := tlv.WriteChunk(w, "ovct", ovctPayload.Bytes()); err != nil {
			return errors.Wrapf(err, "write ovct for column %s", col)
		}
	}

	for _, track := range c.Tracks {
		pathBytes, err := tlv.EncodeU16BE(c.trackPathForWrite(track))
		if err != nil {
			return errors.Wrapf(err, "encode track path %s", track)
		}
		inner := tlv.MakeChunk("ptrk", pathBytes)
		if err := tlv.WriteChunk(w, "otrk", inner); err != nil {
			return errors.Wrapf(err, "write otrk for %s", track)
		}
	}

	return nil
}

// ParseFile opens and parses the crate file at path.
func ParseFile(path string) (*Crate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a crate file from r. A clean EOF before the first otrk block
// is a valid empty crate.
func Parse(r io.Reader) (*Crate, error) {
	chunks, err := tlv.IterTLV(r)
	if err != nil {
		return nil, errors.Wrap(err, "parse crate")
	}

	c := &Crate{
		Version: DefaultVersion,
		SortKey: DefaultSortKey,
		SortRev: DefaultSortRev,
	}

	for _, chunk := range chunks {
		switch chunk.Tag {
		case "vrsn":
			if len(chunk.Value) >= 8 {
				if v, err := tlv.DecodeU16BE(chunk.Value[:8]); err == nil {
					c.Version = v
				}
			}
		case "osrt":
			sortKey, sortRev, err := parseOsrt(chunk.Value)
			if err != nil {
				return nil, errors.Wrap(err, "parse osrt")
			}
			c.SortKey = sortKey
			c.SortRev = sortRev
		case "ovct":
			name, err := parseOvct(chunk.Value)
			if err != nil {
				return nil, errors.Wrap(err, "parse ovct")
			}
			c.Columns = append(c.Columns, name)
		case "otrk":
			path, err := parseOtrk(chunk.Value)
			if err != nil {
				return nil, errors.Wrap(err, "parse otrk")
			}
			c.AddTrack(path)
		default:
			// unknown block tags are skipped by length, which IterTLV already
			// did for us by reading the whole payload.
		}
	}

	return c, nil
}

// parseOsrt handles both the full form (tvcn + brev) and the short form
// (brev only) of the osrt payload.
func parseOsrt(payload []byte) (string, uint64, error) {
	nested, err := tlv.IterNestedTLV(payload)
	if err != nil {
		return "", 0, err
	}
	sortKey := DefaultSortKey
	var sortRev uint64 = DefaultSortRev
	for _, chunk := range nested {
		switch chunk.Tag {
		case "tvcn":
			name, err := tlv.DecodeU16BE(chunk.Value)
			if err != nil {
				return "", 0, errors.Wrap(err, "decode sort name")
			}
			sortKey = name
		case "brev":
			if len(chunk.Value) != 5 {
				return "", 0, errors.New("brev payload must be 5 bytes")
			}
			var v uint64
			for _, b := range chunk.Value {
				v = v<<8 | uint64(b)
			}
			sortRev = v
		}
	}
	return sortKey, sortRev, nil
}

func parseOvct(payload []byte) (string, error) {
	nested, err := tlv.IterNestedTLV(payload)
	if err != nil {
		return "", err
	}
	for _, chunk := range nested {
		if chunk.Tag == "tvcn" {
			return tlv.DecodeU16BE(chunk.Value)
		}
	}
	return "", errors.New("ovct missing tvcn")
}

func parseOtrk(payload []byte) (string, error) {
	nested, err := tlv.IterNestedTLV(payload)
	if err != nil {
		return "", err
	}
	for _, chunk := range nested {
		if chunk.Tag == "ptrk" {
			return tlv.DecodeU16BE(chunk.Value)
		}
	}
	return "", errors.New("otrk missing ptrk")
}

// FileName returns the on-disk crate file name for a hierarchical crate
// name (the segments joined by "%%", plus the .crate extension).
func FileName(segments []string) string {
	return strings.Join(segments, "%%") + ".crate"
}
