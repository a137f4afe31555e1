package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/hyperspacedb/hyperspacedb/internal/hnsw"
	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

// Save archives g to path, writing under a .tmp sibling and renaming
// into place so a crash mid-write never leaves a corrupt archive at the
// real path (the same create-then-rename discipline segstore uses when it
// creates a new segment file). logicalClock records the write-ahead log
// position this snapshot was taken at (spec §4.5 "the snapshot file is
// written alongside the WAL position at which it was taken"), so a later
// Load can tell a caller which WAL records still need replaying.
func Save(path string, g *hnsw.Graph, dimension int, m metric.Metric, q metric.Quantization, logicalClock uint64) error {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}

	var table []byte
	var blob []byte
	var nodeCount uint32

	g.ForEachNode(func(internalID, externalID uint32, vector metric.Vector, aux metric.Aux, deleted bool, neighbors [][]uint32) {
		varOffset := uint64(len(blob))
		nodeBlob := encodeNodeBlob(vector, neighbors)
		blob = append(blob, nodeBlob...)

		deletedByte := uint8(0)
		if deleted {
			deletedByte = 1
		}
		table = append(table, encodeNodeTableEntry(nodeTableEntry{
			ExternalID:     externalID,
			MaxLayer:       uint16(len(neighbors) - 1),
			Deleted:        deletedByte,
			VariableOffset: varOffset,
			VariableLength: uint32(len(nodeBlob)),
		})...)
		nodeCount++
	})

	hdr := fileHeader{
		NodeCount:    nodeCount,
		Dimension:    uint32(dimension),
		Metric:       metricByte(m),
		Quantization: quantizationByteOf(q),
		LogicalClock: logicalClock,
	}
	if nodeID, layer, ok := g.EntryPoint(); ok {
		hdr.HasEntryPoint = 1
		hdr.EntryPointNodeID = nodeID
		hdr.EntryPointLayer = uint32(layer)
	}

	w := bufio.NewWriter(f)
	if _, err := w.Write(encodeFileHeader(hdr)); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: write header: %w", err)
	}
	if _, err := w.Write(table); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: write node table: %w", err)
	}
	if _, err := w.Write(blob); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: write blob: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("snapshot: rename into place: %w", err)
	}
	return nil
}

// encodeNodeBlob lays out one node's variable-length payload: raw
// float32 vector components followed by, for each layer, a neighbor
// count and that many neighbor ids.
func encodeNodeBlob(vector metric.Vector, neighbors [][]uint32) []byte {
	size := len(vector) * 4
	for _, layer := range neighbors {
		size += 4 + len(layer)*4
	}
	out := make([]byte, size)
	off := 0
	for _, c := range vector {
		binary.LittleEndian.PutUint32(out[off:], math.Float32bits(c))
		off += 4
	}
	for _, layer := range neighbors {
		binary.LittleEndian.PutUint32(out[off:], uint32(len(layer)))
		off += 4
		for _, id := range layer {
			binary.LittleEndian.PutUint32(out[off:], id)
			off += 4
		}
	}
	return out
}

func quantizationByteOf(q metric.Quantization) uint8 {
	switch q {
	case metric.ScalarI8:
		return 1
	case metric.Binary:
		return 2
	default:
		return 0
	}
}
