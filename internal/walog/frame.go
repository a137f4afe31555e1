package walog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// frame on-disk layout:
//
//	u32 length        (bytes following this field)
//	u32 crc32         (IEEE, over kind+clock+origin+payload)
//	u64 logical_clock
//	16B origin_node_id
//	u8  kind
//	... payload (length - 8 - 16 - 1 bytes)
const frameHeaderLen = 4 + 4 // length + crc32
const frameBodyFixedLen = 8 + 16 + 1

var errShortFrame = fmt.Errorf("walog: frame shorter than fixed body")

// encodeFrame serializes a Record into a complete on-disk frame.
func encodeFrame(r Record) []byte {
	bodyLen := frameBodyFixedLen + len(r.Payload)
	out := make([]byte, frameHeaderLen+bodyLen)

	body := out[frameHeaderLen:]
	binary.LittleEndian.PutUint64(body[0:8], r.LogicalClock)
	copy(body[8:24], r.OriginNodeID[:])
	body[24] = byte(r.Kind)
	copy(body[25:], r.Payload)

	binary.LittleEndian.PutUint32(out[0:4], uint32(bodyLen))
	binary.LittleEndian.PutUint32(out[4:8], crc32.ChecksumIEEE(body))
	return out
}

// readFrame reads one frame from r. It returns io.EOF only when zero bytes
// could be read at a frame boundary (clean end of segment). Any other
// short read or CRC mismatch is reported as a corruption error so the
// caller can truncate the segment there and stop replay.
func readFrame(r io.Reader) (Record, error) {
	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, fmt.Errorf("walog: truncated frame header: %w", errCorruptFrame)
		}
		return Record{}, err
	}
	bodyLen := binary.LittleEndian.Uint32(header[0:4])
	wantCRC := binary.LittleEndian.Uint32(header[4:8])

	if bodyLen < frameBodyFixedLen {
		return Record{}, fmt.Errorf("%w: %v", errCorruptFrame, errShortFrame)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, fmt.Errorf("walog: truncated frame body: %w", errCorruptFrame)
	}
	if crc32.ChecksumIEEE(body) != wantCRC {
		return Record{}, fmt.Errorf("%w: crc mismatch", errCorruptFrame)
	}

	rec := Record{
		LogicalClock: binary.LittleEndian.Uint64(body[0:8]),
		Kind:         OperationKind(body[24]),
		Payload:      append([]byte(nil), body[25:]...),
	}
	copy(rec.OriginNodeID[:], body[8:24])
	return rec, nil
}

// errCorruptFrame wraps any failure to decode a frame cleanly: short read,
// undersized body, or CRC mismatch. Recovery treats it as "stop replaying
// this segment here", never as a hard failure.
var errCorruptFrame = fmt.Errorf("walog: corrupt frame")

// IsCorrupt reports whether err indicates a corrupt/truncated frame (as
// opposed to a plain I/O error), which recovery treats as end-of-log.
func IsCorrupt(err error) bool {
	return errors.Is(err, errCorruptFrame)
}
