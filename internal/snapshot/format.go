// Package snapshot implements the periodic archive of a collection's
// HNSW graph: a single file a node can mmap and index by byte offset on
// startup, rebuilding the in-memory graph far faster than replaying the
// full write-ahead log (spec §4.6).
//
// True pointer-cast zero-copy, as a systems language could do by
// reinterpreting mapped bytes as its node struct layout, isn't something
// Go's memory model permits safely. This format instead keeps the cost
// proportional to what actually needs materializing: the fixed header
// and node table are tiny and read once, and each node's vector and
// neighbor lists are decoded straight out of the mmap window at its
// stored offset, with no second full-file buffer copy in between.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

const (
	magic            uint32 = 0x484e5342 // "HNSB"
	formatVersion    uint32 = 1
	headerLen               = 40
	nodeTableEntryLn         = 24
)

type fileHeader struct {
	NodeCount        uint32
	Dimension        uint32
	Metric           uint8
	Quantization     uint8
	EntryPointNodeID uint32
	EntryPointLayer  uint32
	HasEntryPoint    uint8
	LogicalClock     uint64
}

func encodeFileHeader(h fileHeader) []byte {
	b := make([]byte, headerLen)
	binary.LittleEndian.PutUint32(b[0:4], magic)
	binary.LittleEndian.PutUint32(b[4:8], formatVersion)
	binary.LittleEndian.PutUint32(b[8:12], h.NodeCount)
	binary.LittleEndian.PutUint32(b[12:16], h.Dimension)
	b[16] = h.Metric
	b[17] = h.Quantization
	b[18] = h.HasEntryPoint
	binary.LittleEndian.PutUint32(b[20:24], h.EntryPointNodeID)
	binary.LittleEndian.PutUint32(b[24:28], h.EntryPointLayer)
	binary.LittleEndian.PutUint64(b[28:36], h.LogicalClock)
	return b
}

func decodeFileHeader(b []byte) (fileHeader, error) {
	if len(b) < headerLen {
		return fileHeader{}, fmt.Errorf("snapshot: truncated header")
	}
	if got := binary.LittleEndian.Uint32(b[0:4]); got != magic {
		return fileHeader{}, fmt.Errorf("snapshot: bad magic %x", got)
	}
	if got := binary.LittleEndian.Uint32(b[4:8]); got != formatVersion {
		return fileHeader{}, fmt.Errorf("%w: version %d", errIncompatibleVersion, got)
	}
	return fileHeader{
		NodeCount:        binary.LittleEndian.Uint32(b[8:12]),
		Dimension:        binary.LittleEndian.Uint32(b[12:16]),
		Metric:           b[16],
		Quantization:     b[17],
		HasEntryPoint:    b[18],
		EntryPointNodeID: binary.LittleEndian.Uint32(b[20:24]),
		EntryPointLayer:  binary.LittleEndian.Uint32(b[24:28]),
		LogicalClock:     binary.LittleEndian.Uint64(b[28:36]),
	}, nil
}

// errIncompatibleVersion signals a format version newer/older than this
// build understands. collection.Open treats it as "no snapshot" and
// rebuilds the graph by replaying the write-ahead log rather than trying
// to interpret bytes it doesn't recognize.
var errIncompatibleVersion = fmt.Errorf("snapshot: incompatible format version")

// IsIncompatibleVersion reports whether err indicates the archive was
// written by an incompatible format version.
func IsIncompatibleVersion(err error) bool {
	return errors.Is(err, errIncompatibleVersion)
}

type nodeTableEntry struct {
	ExternalID     uint32
	MaxLayer       uint16
	Deleted        uint8
	VariableOffset uint64
	VariableLength uint32
}

func encodeNodeTableEntry(e nodeTableEntry) []byte {
	b := make([]byte, nodeTableEntryLn)
	binary.LittleEndian.PutUint32(b[0:4], e.ExternalID)
	binary.LittleEndian.PutUint16(b[4:6], e.MaxLayer)
	b[6] = e.Deleted
	binary.LittleEndian.PutUint64(b[8:16], e.VariableOffset)
	binary.LittleEndian.PutUint32(b[16:20], e.VariableLength)
	return b
}

func decodeNodeTableEntry(b []byte) nodeTableEntry {
	return nodeTableEntry{
		ExternalID:     binary.LittleEndian.Uint32(b[0:4]),
		MaxLayer:       binary.LittleEndian.Uint16(b[4:6]),
		Deleted:        b[6],
		VariableOffset: binary.LittleEndian.Uint64(b[8:16]),
		VariableLength: binary.LittleEndian.Uint32(b[16:20]),
	}
}

func metricByte(m metric.Metric) uint8 {
	switch m {
	case metric.Poincare:
		return 0
	case metric.Cosine:
		return 1
	default:
		return 2 // L2
	}
}
