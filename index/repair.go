package index

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// PathFix maps an exact-byte old pfil payload to its replacement.
type PathFix struct {
	Old []byte
	New []byte
}

// MalformedError indicates that a block structure could not be parsed while
// searching for a fix's target otrk. The caller must treat this as a whole
// stage abort and preserve the original bytes.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "malformed index block: " + e.Reason
}

type otrkBlock struct {
	LenOffset    int
	PayloadStart int
	PayloadLen   int
}

// scanOtrkBlocks walks the top-level TLV sequence in buf and returns the
// span of every otrk block. It fails if any top-level block's declared
// length would overrun the buffer.
func scanOtrkBlocks(buf []byte) ([]otrkBlock, error) {
	var blocks []otrkBlock
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
		if tag == "otrk" {
			blocks = append(blocks, otrkBlock{
				LenOffset:    pos + 4,
				PayloadStart: payloadStart,
				PayloadLen:   int(size),
			})
		}
		pos = payloadEnd
	}
	return blocks, nil
}

type nestedField struct {
	Tag          string
	PayloadStart int
	PayloadLen   int
}

// scanNestedWithOffsets walks the nested TLV fields inside buf[base:base+len(buf)]
// (conceptually), returning absolute offsets into the outer buffer the
// caller sliced from. base is the absolute offset of buf[0].
func scanNestedWithOffsets(buf []byte, base int) ([]nestedField, error) {
	var fields []nestedField
	pos := 0
	n := len(buf)
	for pos+8 <= n {
		tag := string(buf[pos : pos+4])
		size := binary.BigEndian.Uint32(buf[pos+4 : pos+8])
		payloadStart := pos + 8
		payloadEnd := payloadStart + int(size)
		if payloadEnd > n {
			return nil, errors.Errorf("nested field %s overruns buffer", tag)
		}
		fields = append(fields, nestedField{
			Tag:          tag,
			PayloadStart: base + payloadStart,
			PayloadLen:   int(size),
		})
		pos = payloadEnd
	}
	return fields, nil
}

// applyOneFix searches buf for an otrk whose pfil payload equals fix.Old
// exactly. If found, it returns a new buffer with the payload replaced and
// the enclosing otrk's length field adjusted by the byte delta. If no match
// is found, it returns buf unchanged with applied=false. A malformed block
// encountered anywhere during the scan is reported as *MalformedError.
func applyOneFix(buf []byte, fix PathFix) ([]byte, bool, error) {
	otrks, err := scanOtrkBlocks(buf)
	if err != nil {
		return buf, false, &MalformedError{Reason: err.Error()}
	}

	for _, otrk := range otrks {
		payload := buf[otrk.PayloadStart : otrk.PayloadStart+otrk.PayloadLen]
		fields, err := scanNestedWithOffsets(payload, otrk.PayloadStart)
		if err != nil {
			return buf, false, &MalformedError{Reason: err.Error()}
		}

		for _, f := range fields {
			if f.Tag != "pfil" {
				continue
			}
			if !bytes.Equal(buf[f.PayloadStart:f.PayloadStart+f.PayloadLen], fix.Old) {
				continue
			}

			tagStart := f.PayloadStart - 8
			newBuf := make([]byte, 0, len(buf)+len(fix.New)-len(fix.Old))
			newBuf = append(newBuf, buf[:tagStart]...)
			newBuf = append(newBuf, buf[tagStart:tagStart+4]...) // "pfil" tag
			var lenBytes [4]byte
			binary.BigEndian.PutUint32(lenBytes[:], uint32(len(fix.New)))
			newBuf = append(newBuf, lenBytes[:]...)
			newBuf = append(newBuf, fix.New...)
			newBuf = append(newBuf, buf[f.PayloadStart+f.PayloadLen:]...)

			delta := len(fix.New) - len(fix.Old)
			newOtrkLen := uint32(otrk.PayloadLen + delta)
			binary.BigEndian.PutUint32(newBuf[otrk.LenOffset:otrk.LenOffset+4], newOtrkLen)

			return newBuf, true, nil
		}
	}

	return buf, false, nil
}

// Apply applies fixes sequentially to buf, each one searching the buffer as
// mutated by the previous fix. It returns the resulting buffer and the
// number of fixes actually applied (fixes whose old-bytes matched nothing
// are silently skipped and not counted).
//
// If a malformed block is encountered while searching for a fix's target,
// Apply aborts immediately and returns the original, untouched buf with a
// zero fix count alongside the error, so callers never observe a
// partially-mutated buffer.
func Apply(buf []byte, fixes []PathFix) ([]byte, int, error) {
	working := buf
	applied := 0

	for _, fix := range fixes {
		next, ok, err := applyOneFix(working, fix)
		if err != nil {
			return buf, 0, err
		}
		if ok {
			applied++
		}
		working = next
	}

	return working, applied, nil
}
