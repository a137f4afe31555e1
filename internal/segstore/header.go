// Package segstore implements the segmented, memory-mapped, append-only
// vector store: fixed-capacity chunk files that are mmap'd for reads and
// rotated atomically (write-to-temp, fsync, rename) on fill (spec §4.2).
package segstore

import (
	"encoding/binary"
	"fmt"

	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

const (
	magic         uint32 = 0x48595053 // "HYPS"
	headerVersion uint32 = 1

	// RecordsPerSegment caps each chunk file at 65536 vectors, bounding
	// both the mmap window size and how much a single rotation can lose
	// if interrupted mid-write.
	RecordsPerSegment = 1 << 16

	headerLen = 32
)

// header is the fixed 32-byte prologue of every chunk file.
type header struct {
	Magic        uint32
	Version      uint32
	Dimension    uint32
	Quantization uint8
	_            [3]byte // padding
	Count        uint32
	RecordSize   uint32
	_            uint64 // reserved
}

func encodeHeader(h header) []byte {
	b := make([]byte, headerLen)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.Dimension)
	b[12] = h.Quantization
	binary.LittleEndian.PutUint32(b[16:20], h.Count)
	binary.LittleEndian.PutUint32(b[20:24], h.RecordSize)
	return b
}

func decodeHeader(b []byte) (header, error) {
	if len(b) < headerLen {
		return header{}, fmt.Errorf("segstore: truncated header")
	}
	h := header{
		Magic:        binary.LittleEndian.Uint32(b[0:4]),
		Version:      binary.LittleEndian.Uint32(b[4:8]),
		Dimension:    binary.LittleEndian.Uint32(b[8:12]),
		Quantization: b[12],
		Count:        binary.LittleEndian.Uint32(b[16:20]),
		RecordSize:   binary.LittleEndian.Uint32(b[20:24]),
	}
	if h.Magic != magic {
		return header{}, fmt.Errorf("segstore: bad magic %x", h.Magic)
	}
	if h.Version != headerVersion {
		return header{}, fmt.Errorf("segstore: unsupported segment version %d", h.Version)
	}
	return h, nil
}

func quantizationByte(q metric.Quantization) uint8 {
	switch q {
	case metric.None, "":
		return 0
	case metric.ScalarI8:
		return 1
	case metric.Binary:
		return 2
	default:
		return 0xff
	}
}

func quantizationFromByte(b uint8) metric.Quantization {
	switch b {
	case 1:
		return metric.ScalarI8
	case 2:
		return metric.Binary
	default:
		return metric.None
	}
}
