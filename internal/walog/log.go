package walog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
)

// SyncMode selects how aggressively Append forces data to stable storage
// before returning, trading latency for durability (spec §4.3).
type SyncMode int

const (
	// Async never calls fsync; a crash can lose recently appended records.
	Async SyncMode = iota
	// Batch flushes to the OS on every Append but fsyncs on a timer, so at
	// most one interval's worth of writes is at risk.
	Batch
	// Strict fsyncs before every Append returns.
	Strict
)

func (m SyncMode) String() string {
	switch m {
	case Async:
		return "async"
	case Batch:
		return "batch"
	case Strict:
		return "strict"
	default:
		return "unknown"
	}
}

const (
	defaultRotateBytes   = 256 << 20
	defaultBatchInterval = 5 * time.Millisecond
)

// Options configures an opened Log.
type Options struct {
	Dir           string
	Mode          SyncMode
	RotateBytes   int64
	BatchInterval time.Duration
}

// Log is a segmented, append-only write-ahead log for one collection.
// Append is safe for concurrent use.
type Log struct {
	dir           string
	mode          SyncMode
	rotateBytes   int64
	batchInterval time.Duration

	mu         sync.Mutex
	file       *os.File
	writer     *bufio.Writer
	segmentNum uint64
	written    int64

	dirty    atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	wg       conc.WaitGroup
}

// Open creates dir if needed, opens (or creates) the newest segment for
// appending, and — if mode is Batch — starts the background fsync ticker.
func Open(opts Options) (*Log, error) {
	if opts.RotateBytes <= 0 {
		opts.RotateBytes = defaultRotateBytes
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = defaultBatchInterval
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("walog: create dir: %w", err)
	}

	segs, err := listSegments(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("walog: list segments: %w", err)
	}
	var segNum uint64
	if len(segs) > 0 {
		segNum = segs[len(segs)-1]
	}

	l := &Log{
		dir:           opts.Dir,
		mode:          opts.Mode,
		rotateBytes:   opts.RotateBytes,
		batchInterval: opts.BatchInterval,
		stop:          make(chan struct{}),
	}
	if err := l.openSegment(segNum); err != nil {
		return nil, err
	}

	if l.mode == Batch {
		l.wg.Go(l.runBatchSyncer)
	}
	return l, nil
}

func (l *Log) openSegment(n uint64) error {
	f, err := os.OpenFile(segmentPath(l.dir, n), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("walog: open segment %d: %w", n, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("walog: stat segment %d: %w", n, err)
	}
	l.file = f
	l.writer = bufio.NewWriter(f)
	l.segmentNum = n
	l.written = info.Size()
	return nil
}

func (l *Log) runBatchSyncer() {
	ticker := time.NewTicker(l.batchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if l.dirty.CompareAndSwap(true, false) {
				l.mu.Lock()
				l.file.Sync()
				l.mu.Unlock()
			}
		}
	}
}

// Append encodes and durably writes a record, applying the Log's
// SyncMode before returning.
func (l *Log) Append(r Record) error {
	frame := encodeFrame(r)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.written+int64(len(frame)) > l.rotateBytes && l.written > 0 {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := l.writer.Write(frame)
	if err != nil {
		return fmt.Errorf("walog: write frame: %w", err)
	}
	l.written += int64(n)

	switch l.mode {
	case Strict:
		if err := l.writer.Flush(); err != nil {
			return fmt.Errorf("walog: flush: %w", err)
		}
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("walog: fsync: %w", err)
		}
	case Batch:
		if err := l.writer.Flush(); err != nil {
			return fmt.Errorf("walog: flush: %w", err)
		}
		l.dirty.Store(true)
	case Async:
		// Buffered write is enough; flushed lazily by bufio or on Close.
	}
	return nil
}

func (l *Log) rotateLocked() error {
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("walog: flush before rotate: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("walog: close segment before rotate: %w", err)
	}
	return l.openSegment(l.segmentNum + 1)
}

// Close flushes and fsyncs the current segment, stops the batch syncer,
// and releases the file handle.
func (l *Log) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("walog: flush on close: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("walog: fsync on close: %w", err)
	}
	return l.file.Close()
}

// Dir returns the directory backing this log, for tests and diagnostics.
func (l *Log) Dir() string { return l.dir }
