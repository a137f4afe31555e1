package segstore

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/edsrzf/mmap-go"

	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

// GlobalID addresses a single vector: segment index * RecordsPerSegment +
// offset within the segment. It is stable for the lifetime of the record
// (tombstoning never reassigns ids).
type GlobalID uint32

func (id GlobalID) segment() uint32 { return uint32(id) / RecordsPerSegment }
func (id GlobalID) offset() uint32  { return uint32(id) % RecordsPerSegment }

func newGlobalID(segmentIdx, offset uint32) GlobalID {
	return GlobalID(segmentIdx*RecordsPerSegment + offset)
}

// segment is one mmap'd chunk file. The active segment (the one still
// accepting appends) is the last element of Store.segments.
type segment struct {
	idx        uint32
	path       string
	file       *os.File
	mm         mmap.MMap
	header     header
	recordSize int // payload bytes + 4-byte trailing crc32
}

func (s *segment) recordOffset(off uint32) int {
	return headerLen + int(off)*s.recordSize
}

func (s *segment) writeHeaderCount(n uint32) {
	copy(s.mm[0:headerLen], encodeHeader(header{
		Magic:        magic,
		Version:      headerVersion,
		Dimension:    s.header.Dimension,
		Quantization: s.header.Quantization,
		Count:        n,
		RecordSize:   uint32(s.recordSize),
	}))
	s.header.Count = n
}

func (s *segment) close() error {
	if err := s.mm.Flush(); err != nil {
		return err
	}
	if err := s.mm.Unmap(); err != nil {
		return err
	}
	return s.file.Close()
}

// Store is the segmented, memory-mapped vector store for one collection.
// All methods are safe for concurrent use.
type Store struct {
	dir          string
	dimension    int
	quantization metric.Quantization
	codec        metric.Codec
	recordSize   int

	mu         sync.RWMutex
	segments   []*segment
	tombstones *roaring.Bitmap
}

// Open opens (creating if empty) the vector store rooted at dir. Any
// trailing partially-written record in the active segment — detected via
// CRC mismatch — is truncated back to the last good record so appends
// resume cleanly after a crash.
func Open(dir string, dimension int, quantization metric.Quantization) (*Store, error) {
	codec, err := metric.NewCodec(quantization, metric.L2) // metric only matters for Binary+Poincare refusal, done by caller
	if err != nil {
		return nil, fmt.Errorf("segstore: codec: %w", err)
	}
	payloadLen, err := payloadSize(quantization, dimension)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segstore: mkdir: %w", err)
	}

	s := &Store{
		dir:          dir,
		dimension:    dimension,
		quantization: quantization,
		codec:        codec,
		recordSize:   payloadLen + 4,
		tombstones:   roaring.New(),
	}

	idxs, err := existingSegmentIndexes(dir)
	if err != nil {
		return nil, err
	}
	for _, idx := range idxs {
		seg, err := s.openSegment(idx)
		if err != nil {
			return nil, err
		}
		s.repairTrailingRecord(seg)
		s.segments = append(s.segments, seg)
	}
	if len(s.segments) == 0 {
		seg, err := s.createSegment(0)
		if err != nil {
			return nil, err
		}
		s.segments = append(s.segments, seg)
	}
	return s, nil
}

func payloadSize(q metric.Quantization, dim int) (int, error) {
	switch q {
	case metric.None, "":
		return dim * 4, nil
	case metric.ScalarI8:
		return dim + 4, nil
	case metric.Binary:
		return ((dim + 63) / 64) * 8, nil
	default:
		return 0, fmt.Errorf("segstore: unknown quantization %q", q)
	}
}

func segmentFileName(idx uint32) string { return fmt.Sprintf("chunk_%08d.hyp", idx) }

func existingSegmentIndexes(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var idxs []uint32
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "chunk_") || !strings.HasSuffix(name, ".hyp") {
			continue
		}
		base := strings.TrimSuffix(strings.TrimPrefix(name, "chunk_"), ".hyp")
		n, err := strconv.ParseUint(base, 10, 32)
		if err != nil {
			continue
		}
		idxs = append(idxs, uint32(n))
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	return idxs, nil
}

func (s *Store) openSegment(idx uint32) (*segment, error) {
	path := filepath.Join(s.dir, segmentFileName(idx))
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segstore: open segment %d: %w", idx, err)
	}
	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("segstore: mmap segment %d: %w", idx, err)
	}
	h, err := decodeHeader(mm)
	if err != nil {
		mm.Unmap()
		f.Close()
		return nil, fmt.Errorf("segstore: segment %d: %w", idx, err)
	}
	return &segment{idx: idx, path: path, file: f, mm: mm, header: h, recordSize: s.recordSize}, nil
}

// createSegment atomically materializes a new, fully preallocated
// segment file: it is written under a .tmp path, fsynced, then renamed
// into place so a crash never leaves a half-initialized chunk visible
// under its real name.
func (s *Store) createSegment(idx uint32) (*segment, error) {
	finalPath := filepath.Join(s.dir, segmentFileName(idx))
	tmpPath := finalPath + ".tmp"

	size := int64(headerLen + RecordsPerSegment*s.recordSize)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segstore: create segment %d: %w", idx, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("segstore: preallocate segment %d: %w", idx, err)
	}
	h := header{
		Magic:        magic,
		Version:      headerVersion,
		Dimension:    uint32(s.dimension),
		Quantization: quantizationByte(s.quantization),
		Count:        0,
		RecordSize:   uint32(s.recordSize),
	}
	if _, err := f.WriteAt(encodeHeader(h), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("segstore: write header for segment %d: %w", idx, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("segstore: fsync new segment %d: %w", idx, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("segstore: close new segment %d: %w", idx, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("segstore: rename segment %d into place: %w", idx, err)
	}
	return s.openSegment(idx)
}

// repairTrailingRecord first trims Count back over any trailing records
// it credits whose CRC fails (a partially-written tail), then scans
// forward for any additional record whose CRC validates (a write that
// landed but never got credited to Count before a crash) — leaving Count
// as the true count of verified records at the end of the segment.
func (s *Store) repairTrailingRecord(seg *segment) {
	valid := func(i uint32) bool {
		off := seg.recordOffset(i)
		if off+seg.recordSize > len(seg.mm) {
			return false
		}
		rec := seg.mm[off : off+seg.recordSize]
		return crc32.ChecksumIEEE(rec[:seg.recordSize-4]) == beUint32(rec[seg.recordSize-4:])
	}
	n := seg.header.Count
	for n > 0 && !valid(n-1) {
		n--
	}
	for n < RecordsPerSegment {
		off := seg.recordOffset(n)
		if off+seg.recordSize > len(seg.mm) {
			break
		}
		rec := seg.mm[off : off+seg.recordSize]
		payload := rec[:seg.recordSize-4]
		wantCRC := rec[seg.recordSize-4:]
		if crc32.ChecksumIEEE(payload) != beUint32(wantCRC) {
			break
		}
		n++
	}
	if n != seg.header.Count {
		seg.writeHeaderCount(n)
	}
}

func beUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Append encodes v and writes it to the active segment, rotating to a
// fresh segment first if the active one is full. It returns the vector's
// permanent GlobalID.
func (s *Store) Append(v metric.Vector) (GlobalID, error) {
	payload, err := s.codec.Encode(v)
	if err != nil {
		return 0, fmt.Errorf("segstore: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.segments[len(s.segments)-1]
	if active.header.Count >= RecordsPerSegment {
		next, err := s.createSegment(active.idx + 1)
		if err != nil {
			return 0, err
		}
		s.segments = append(s.segments, next)
		active = next
	}

	off := active.header.Count
	recOff := active.recordOffset(off)
	copy(active.mm[recOff:recOff+len(payload)], payload)
	crc := crc32.ChecksumIEEE(payload)
	putLE32(active.mm[recOff+len(payload):recOff+s.recordSize], crc)
	active.writeHeaderCount(off + 1)

	return newGlobalID(active.idx, off), nil
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Get decodes the vector stored at id. It returns an error if id was
// deleted or fails its CRC check.
func (s *Store) Get(id GlobalID) (metric.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tombstones.Contains(uint32(id)) {
		return nil, fmt.Errorf("segstore: record %d is deleted", id)
	}
	segIdx := id.segment()
	if int(segIdx) >= len(s.segments) {
		return nil, fmt.Errorf("segstore: record %d out of range", id)
	}
	seg := s.segments[segIdx]
	off := id.offset()
	if off >= seg.header.Count {
		return nil, fmt.Errorf("segstore: record %d not yet written", id)
	}
	recOff := seg.recordOffset(off)
	rec := seg.mm[recOff : recOff+seg.recordSize]
	payload := rec[:seg.recordSize-4]
	wantCRC := beUint32(rec[seg.recordSize-4:])
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return nil, fmt.Errorf("segstore: record %d failed crc check", id)
	}
	return s.codec.Decode(payload, s.dimension)
}

// Delete tombstones id. The backing bytes are left in place and are not
// reclaimed; the store has no compaction pass.
func (s *Store) Delete(id GlobalID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstones.Add(uint32(id))
}

// IsDeleted reports whether id has been tombstoned.
func (s *Store) IsDeleted(id GlobalID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tombstones.Contains(uint32(id))
}

// ForEachLive calls fn for every non-tombstoned record in ascending
// GlobalID order, stopping early if fn returns false.
func (s *Store) ForEachLive(fn func(id GlobalID, v metric.Vector) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, seg := range s.segments {
		for off := uint32(0); off < seg.header.Count; off++ {
			id := newGlobalID(seg.idx, off)
			if s.tombstones.Contains(uint32(id)) {
				continue
			}
			recOff := seg.recordOffset(off)
			rec := seg.mm[recOff : recOff+seg.recordSize]
			payload := rec[:seg.recordSize-4]
			wantCRC := beUint32(rec[seg.recordSize-4:])
			if crc32.ChecksumIEEE(payload) != wantCRC {
				continue
			}
			v, err := s.codec.Decode(payload, s.dimension)
			if err != nil {
				continue
			}
			if !fn(id, v) {
				return nil
			}
		}
	}
	return nil
}

// Count returns the number of live (non-tombstoned) records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, seg := range s.segments {
		total += int(seg.header.Count)
	}
	return total - int(s.tombstones.GetCardinality())
}

// Close flushes and unmaps every open segment.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, seg := range s.segments {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
