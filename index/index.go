// Package index reads and repairs the host's main library index
// ("database V2"): a flat sequence of otrk track records, each carrying a
// pfil path and (usually) a tsiz size.
package index

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"seratosync-go/pathnorm"
	"seratosync-go/tlv"
)

// Track is one otrk record's essential attributes.
type Track struct {
	// PfilRaw is the exact byte sequence of the pfil payload, as stored.
	PfilRaw []byte
	// Pfil is PfilRaw decoded as UTF-16BE, preserving its original Unicode
	// normalization form.
	Pfil string
	// Tsiz is the decoded size-as-text payload, or "" if the record has
	// none.
	Tsiz string
}

// Stats reports how many otrk records a Parse pass skipped because they
// carried no usable pfil payload.
type Stats struct {
	TotalOtrk     int
	SkippedNoPfil int
}

// Index is the read-only lookup view over a parsed database file.
type Index struct {
	Tracks []Track
	Stats  Stats

	byPath           map[string][]byte
	byFilename       map[string][]byte
	byFilenameLatest map[string]string
}

func normalizedPath(p string) string {
	return strings.ToLower(pathnorm.NFC(pathnorm.Canonical(p)))
}

func lookupKey(primary, size string) string {
	return primary + "|" + size
}

// Parse reads a database file from r and builds its lookup indices.
func Parse(r io.Reader) (*Index, error) {
	chunks, err := tlv.IterTLV(r)
	if err != nil {
		return nil, errors.Wrap(err, "parse index")
	}

	ix := &Index{
		byPath:           make(map[string][]byte),
		byFilename:       make(map[string][]byte),
		byFilenameLatest: make(map[string]string),
	}

	for _, chunk := range chunks {
		if chunk.Tag != "otrk" {
			continue
		}
		ix.Stats.TotalOtrk++

		fields, err := tlv.IterNestedTLV(chunk.Value)
		if err != nil {
			return nil, errors.Wrap(err, "parse otrk fields")
		}

		var track Track
		for _, f := range fields {
			switch f.Tag {
			case "pfil":
				track.PfilRaw = f.Value
				decoded, err := tlv.DecodeU16BE(f.Value)
				if err != nil {
					return nil, errors.Wrap(err, "decode pfil")
				}
				track.Pfil = decoded
			case "tsiz":
				decoded, err := tlv.DecodeU16BE(f.Value)
				if err != nil {
					return nil, errors.Wrap(err, "decode tsiz")
				}
				track.Tsiz = decoded
			}
		}

		if track.PfilRaw == nil {
			ix.Stats.SkippedNoPfil++
			continue
		}

		ix.Tracks = append(ix.Tracks, track)
		ix.index(track)
	}

	return ix, nil
}

// ParseFile opens and parses the database file at path.
func ParseFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

func (ix *Index) index(track Track) {
	np := normalizedPath(track.Pfil)
	ix.byPath[lookupKey(np, track.Tsiz)] = track.PfilRaw

	leaf := pathnorm.NFCLowerFilename(track.Pfil)
	ix.byFilename[lookupKey(leaf, track.Tsiz)] = track.PfilRaw
	ix.byFilenameLatest[leaf] = track.Pfil
}

// LookupByPath reports whether the index contains a track at path with
// exactly the given size string (pass "" for a record with no tsiz field).
func (ix *Index) LookupByPath(path, size string) ([]byte, bool) {
	raw, ok := ix.byPath[lookupKey(normalizedPath(path), size)]
	return raw, ok
}

// LookupByFilename reports whether the index contains a track whose
// NFC-lowercased filename matches path's, with exactly the given size
// string.
func (ix *Index) LookupByFilename(path, size string) ([]byte, bool) {
	raw, ok := ix.byFilename[lookupKey(pathnorm.NFCLowerFilename(path), size)]
	return raw, ok
}

// EncodedPath implements crate.PathEncoder: it returns the host's original
// decoded path for a given NFC-lowercased filename, preserving whatever
// Unicode form the index has on record.
func (ix *Index) EncodedPath(nfcLowerFilename string) (string, bool) {
	p, ok := ix.byFilenameLatest[nfcLowerFilename]
	return p, ok
}

