package snapshot

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/sourcegraph/conc/pool"

	"github.com/hyperspacedb/hyperspacedb/internal/hnsw"
	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

// Load mmaps path, decodes its fixed header and node table eagerly, and
// rebuilds a graph by decoding each node's vector and neighbor lists
// directly out of the mapping. A worker pool pre-warms the page cache
// across the whole file before decoding starts, since the OS will
// otherwise fault pages in one at a time as decoding walks the table.
// cfg carries the collection's configured M/ef_construction/ef_search so
// the restored graph keeps those settings instead of falling back to
// defaults. The returned uint64 is the logical clock this snapshot was
// taken at; a caller only needs to replay WAL records past it.
func Load(path string, kernel metric.Kernel, cfg hnsw.Config, concurrency int) (*hnsw.Graph, int, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot: mmap: %w", err)
	}
	defer mm.Unmap()

	hdr, err := decodeFileHeader(mm)
	if err != nil {
		return nil, 0, 0, err
	}

	tableStart := headerLen
	tableEnd := tableStart + int(hdr.NodeCount)*nodeTableEntryLn
	if tableEnd > len(mm) {
		return nil, 0, 0, fmt.Errorf("snapshot: node table extends past file end")
	}
	blobStart := tableEnd

	prewarmPages(mm, concurrency)

	g := hnsw.New(kernel, cfg)
	for i := uint32(0); i < hdr.NodeCount; i++ {
		entryOff := tableStart + int(i)*nodeTableEntryLn
		entry := decodeNodeTableEntry(mm[entryOff : entryOff+nodeTableEntryLn])

		blobOff := blobStart + int(entry.VariableOffset)
		blobEnd := blobOff + int(entry.VariableLength)
		if blobEnd > len(mm) {
			return nil, 0, 0, fmt.Errorf("snapshot: node %d blob extends past file end", i)
		}

		vector, neighbors, err := decodeNodeBlob(mm[blobOff:blobEnd], int(hdr.Dimension), int(entry.MaxLayer))
		if err != nil {
			return nil, 0, 0, fmt.Errorf("snapshot: decode node %d: %w", i, err)
		}
		aux, err := kernel.Prepare(append(metric.Vector(nil), vector...))
		if err != nil {
			return nil, 0, 0, fmt.Errorf("snapshot: re-prepare node %d: %w", i, err)
		}
		g.RestoreNode(i, entry.ExternalID, vector, aux, entry.Deleted != 0, neighbors)
	}

	if hdr.HasEntryPoint != 0 {
		g.RestoreEntryPoint(hdr.EntryPointNodeID, int(hdr.EntryPointLayer))
	}

	return g, int(hdr.Dimension), hdr.LogicalClock, nil
}

// prewarmPages touches every page of the mapping from a small worker
// pool so the kernel has the whole file resident before decode begins,
// instead of faulting pages in one at a time as the table walk proceeds.
func prewarmPages(mm mmap.MMap, concurrency int) {
	if concurrency <= 0 {
		concurrency = 4
	}
	const pageSize = 4096
	p := pool.New().WithMaxGoroutines(concurrency)
	for off := 0; off < len(mm); off += pageSize {
		off := off
		p.Go(func() {
			_ = mm[off]
		})
	}
	p.Wait()
}

func decodeNodeBlob(b []byte, dimension int, maxLayer int) (metric.Vector, [][]uint32, error) {
	need := dimension * 4
	if len(b) < need {
		return nil, nil, fmt.Errorf("blob shorter than vector: have %d want %d", len(b), need)
	}
	vector := make(metric.Vector, dimension)
	off := 0
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
		off += 4
	}

	neighbors := make([][]uint32, maxLayer+1)
	for layer := range neighbors {
		if off+4 > len(b) {
			return nil, nil, fmt.Errorf("blob truncated at layer %d count", layer)
		}
		count := binary.LittleEndian.Uint32(b[off:])
		off += 4
		ids := make([]uint32, count)
		for i := range ids {
			if off+4 > len(b) {
				return nil, nil, fmt.Errorf("blob truncated at layer %d neighbor %d", layer, i)
			}
			ids[i] = binary.LittleEndian.Uint32(b[off:])
			off += 4
		}
		neighbors[layer] = ids
	}
	return vector, neighbors, nil
}
