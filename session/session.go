// Package session implements the session history record codec: parsing
// *.session files (oent entries with small-integer-keyed adat fields),
// path substitution that preserves trailing NUL padding, short-session
// deletion, and history.database catalog scrubbing.
package session

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"

	"seratosync-go/tlv"
)

// Field IDs inside an adat block. Only these two are semantically
// significant to the core; everything else is opaque pass-through.
const (
	FieldFilePath = 0x02
	FieldDuration = 0x2D
)

// FieldSessionName is the field inside an oses history entry that
// identifies which session file it describes. No known field-ID table
// enumerates oses's own fields the way it does otrk's, so this numbering
// follows adat's own convention of giving the primary string field the
// lowest id.
const FieldSessionName = 0x01

type span struct {
	TagOrID      any // string for 4-byte tags, byte for adat field IDs
	LenOffset    int
	PayloadStart int
	PayloadLen   int
}

// scanTopLevel scans a standard 4-byte-tag/4-byte-length sequence starting
// at the beginning of buf.
func scanTopLevel(buf []byte) ([]span, error) {
	var spans []span
	pos := 0
	n := len(buf)
	for pos < n {
		if pos+8 > n {
			return nil, errors.New("truncated top-level chunk header")
		}
		tag := string(buf[pos : pos+4])
		size := binary.BigEndian.Uint32(buf[pos+4 : pos+8])
		payloadStart := pos + 8
		payloadEnd := payloadStart + int(size)
		if payloadEnd > n {
			return nil, errors.Errorf("top-level chunk %s payload overruns buffer", tag)
		}
		spans = append(spans, span{TagOrID: tag, LenOffset: pos + 4, PayloadStart: payloadStart, PayloadLen: int(size)})
		pos = payloadEnd
	}
	return spans, nil
}

// scanNested4 scans a 4-byte-tag/4-byte-length sequence inside a payload,
// reporting offsets absolute to the outer buffer (base is the absolute
// offset of buf[0]).
func scanNested4(buf []byte, base int) ([]span, error) {
	var spans []span
	pos := 0
	n := len(buf)
	for pos+8 <= n {
		tag := string(buf[pos : pos+4])
		size := binary.BigEndian.Uint32(buf[pos+4 : pos+8])
		payloadStart := pos + 8
		payloadEnd := payloadStart + int(size)
		if payloadEnd > n {
			return nil, errors.Errorf("nested chunk %s overruns buffer", tag)
		}
		spans = append(spans, span{TagOrID: tag, LenOffset: base + pos + 4, PayloadStart: base + payloadStart, PayloadLen: int(size)})
		pos = payloadEnd
	}
	return spans, nil
}

// scanAdatFields scans a 1-byte-ID/4-byte-length sequence (the field layout
// inside an adat or oses payload), reporting offsets absolute to the outer
// buffer.
func scanAdatFields(buf []byte, base int) ([]span, error) {
	var spans []span
	pos := 0
	n := len(buf)
	for pos+5 <= n {
		id := buf[pos]
		size := binary.BigEndian.Uint32(buf[pos+1 : pos+5])
		payloadStart := pos + 5
		payloadEnd := payloadStart + int(size)
		if payloadEnd > n {
			return nil, errors.Errorf("adat field 0x%02x overruns buffer", id)
		}
		spans = append(spans, span{TagOrID: id, LenOffset: base + pos + 1, PayloadStart: base + payloadStart, PayloadLen: int(size)})
		pos = payloadEnd
	}
	return spans, nil
}

func trailingNulUnits(b []byte) int {
	units := 0
	for i := len(b) - 2; i >= 0; i -= 2 {
		if b[i] == 0 && b[i+1] == 0 {
			units++
		} else {
			break
		}
	}
	return units
}

// MakeAdatField builds a 1-byte-ID TLV field as a byte slice.
func MakeAdatField(id byte, payload []byte) []byte {
	out := make([]byte, 0, 5+len(payload))
	out = append(out, id)
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(payload)))
	out = append(out, lenBytes[:]...)
	out = append(out, payload...)
	return out
}

// UpdatePath rewrites every oent whose adat field 0x02 (after stripping
// trailing 16-bit NUL units) equals oldPath (after stripping), replacing it
// with newPath padded with the same count of trailing NUL units as the
// original. It returns the number of fields rewritten.
func UpdatePath(buf []byte, oldPath, newPath string) ([]byte, int, error) {
	oldEncoded, err := tlv.EncodeU16BE(oldPath)
	if err != nil {
		return buf, 0, errors.Wrap(err, "encode old path")
	}
	newEncodedBase, err := tlv.EncodeU16BE(newPath)
	if err != nil {
		return buf, 0, errors.Wrap(err, "encode new path")
	}

	working := buf
	rewritten := 0

	for {
		next, changed, err := rewriteOnePath(working, oldEncoded, newEncodedBase)
		if err != nil {
			return buf, 0, err
		}
		if !changed {
			break
		}
		working = next
		rewritten++
	}

	return working, rewritten, nil
}

func rewriteOnePath(buf []byte, oldEncoded, newEncodedBase []byte) ([]byte, bool, error) {
	oldTrimmed := bytes.TrimRight(oldEncoded, "\x00")

	top, err := scanTopLevel(buf)
	if err != nil {
		return buf, false, err
	}

	for _, oent := range top {
		if oent.TagOrID.(string) != "oent" {
			continue
		}
		oentPayload := buf[oent.PayloadStart : oent.PayloadStart+oent.PayloadLen]
		nested, err := scanNested4(oentPayload, oent.PayloadStart)
		if err != nil {
			return buf, false, err
		}
		for _, adat := range nested {
			if adat.TagOrID.(string) != "adat" {
				continue
			}
			adatPayload := buf[adat.PayloadStart : adat.PayloadStart+adat.PayloadLen]
			fields, err := scanAdatFields(adatPayload, adat.PayloadStart)
			if err != nil {
				return buf, false, err
			}
			for _, f := range fields {
				if f.TagOrID.(byte) != FieldFilePath {
					continue
				}
				val := buf[f.PayloadStart : f.PayloadStart+f.PayloadLen]
				valTrimmed := bytes.TrimRight(val, "\x00")
				if !bytes.Equal(valTrimmed, oldTrimmed) {
					continue
				}

				nulUnits := trailingNulUnits(val)
				newPayload := append(append([]byte{}, newEncodedBase...), bytes.Repeat([]byte{0, 0}, nulUnits)...)

				return patchThreeLevels(buf, f, adat, oent, newPayload), true, nil
			}
		}
	}

	return buf, false, nil
}

// patchThreeLevels replaces the field payload at f with newPayload and
// adjusts the field's own length header plus the enclosing adat chunk's and
// oent chunk's length fields by the resulting byte delta.
func patchThreeLevels(buf []byte, f, adat, oent span, newPayload []byte) []byte {
	delta := len(newPayload) - f.PayloadLen
	idStart := f.LenOffset - 1

	newBuf := make([]byte, 0, len(buf)+delta)
	newBuf = append(newBuf, buf[:idStart]...)
	newBuf = append(newBuf, buf[idStart])
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(newPayload)))
	newBuf = append(newBuf, lenBytes[:]...)
	newBuf = append(newBuf, newPayload...)
	newBuf = append(newBuf, buf[f.PayloadStart+f.PayloadLen:]...)

	binary.BigEndian.PutUint32(newBuf[adat.LenOffset:adat.LenOffset+4], uint32(adat.PayloadLen+delta))
	binary.BigEndian.PutUint32(newBuf[oent.LenOffset:oent.LenOffset+4], uint32(oent.PayloadLen+delta))

	return newBuf
}

// ReadDurationSeconds returns the total duration (seconds) across every
// oent/adat 0x2D field in the session file at path.
func ReadDurationSeconds(path string) (uint32, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return sumDurations(buf)
}

func sumDurations(buf []byte) (uint32, error) {
	top, err := scanTopLevel(buf)
	if err != nil {
		return 0, err
	}
	var total uint32
	for _, oent := range top {
		if oent.TagOrID.(string) != "oent" {
			continue
		}
		nested, err := scanNested4(buf[oent.PayloadStart:oent.PayloadStart+oent.PayloadLen], oent.PayloadStart)
		if err != nil {
			return 0, err
		}
		for _, adat := range nested {
			if adat.TagOrID.(string) != "adat" {
				continue
			}
			fields, err := scanAdatFields(buf[adat.PayloadStart:adat.PayloadStart+adat.PayloadLen], adat.PayloadStart)
			if err != nil {
				return 0, err
			}
			for _, f := range fields {
				if f.TagOrID.(byte) == FieldDuration && f.PayloadLen == 4 {
					total += binary.BigEndian.Uint32(buf[f.PayloadStart : f.PayloadStart+4])
				}
			}
		}
	}
	return total, nil
}

// DeleteIfShort removes the session file at path if its total duration is
// below thresholdSeconds, reporting whether it deleted the file.
func DeleteIfShort(path string, thresholdSeconds uint32) (bool, error) {
	duration, err := ReadDurationSeconds(path)
	if err != nil {
		return false, errors.Wrap(err, "read session duration")
	}
	if duration >= thresholdSeconds {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, errors.Wrap(err, "remove short session")
	}
	return true, nil
}

// ScrubHistoryDatabase rewrites a history.database buffer, removing every
// top-level oses entry whose FieldSessionName matches one of
// removedSessionNames. All other top-level blocks (vrsn header, ocol column
// definitions, and non-matching oses entries) are copied through unchanged.
func ScrubHistoryDatabase(buf []byte, removedSessionNames map[string]bool) ([]byte, int, error) {
	top, err := scanTopLevel(buf)
	if err != nil {
		return buf, 0, err
	}

	var out bytes.Buffer
	removed := 0
	for _, blk := range top {
		tag := blk.TagOrID.(string)
		payload := buf[blk.PayloadStart : blk.PayloadStart+blk.PayloadLen]

		if tag == "oses" {
			name, matched := osesSessionName(buf, blk)
			if matched && removedSessionNames[name] {
				removed++
				continue
			}
		}

		if err := tlv.WriteChunk(&out, tag, payload); err != nil {
			return buf, 0, err
		}
	}

	return out.Bytes(), removed, nil
}

func osesSessionName(buf []byte, oses span) (string, bool) {
	payload := buf[oses.PayloadStart : oses.PayloadStart+oses.PayloadLen]
	fields, err := scanAdatFields(payload, oses.PayloadStart)
	if err != nil {
		return "", false
	}
	for _, f := range fields {
		if f.TagOrID.(byte) == FieldSessionName {
			name, err := tlv.DecodeU16BE(buf[f.PayloadStart : f.PayloadStart+f.PayloadLen])
			if err != nil {
				return "", false
			}
			return name, true
		}
	}
	return "", false
}
