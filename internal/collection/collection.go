// Package collection orchestrates one collection's write-ahead log,
// segmented vector store, HNSW graph, and metadata index into a single
// consistent unit, and provides the mutation pipeline (backpressure,
// serialized apply order, idle eviction) that sits in front of them
// (spec §4.7).
package collection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/semaphore"

	"github.com/hyperspacedb/hyperspacedb/internal/hnsw"
	"github.com/hyperspacedb/hyperspacedb/internal/metaindex"
	"github.com/hyperspacedb/hyperspacedb/internal/metric"
	"github.com/hyperspacedb/hyperspacedb/internal/replication"
	"github.com/hyperspacedb/hyperspacedb/internal/segstore"
	"github.com/hyperspacedb/hyperspacedb/internal/snapshot"
	"github.com/hyperspacedb/hyperspacedb/internal/walog"
)

// Options configures an opened Collection.
type Options struct {
	Name             string
	Dir              string
	Dimension        int
	Metric           metric.Metric
	Quantization     metric.Quantization
	HNSW             hnsw.Config
	WALSyncMode      walog.SyncMode
	MaxInFlight      int64
	MutationQueue    int
	SnapshotInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 256
	}
	if o.MutationQueue <= 0 {
		o.MutationQueue = 4096
	}
	return o
}

type liveRecord struct {
	globalID    segstore.GlobalID
	internalID  uint32
	vector      metric.Vector
	stringMeta  map[string]string
	numericMeta map[string]float64
}

// Collection is one collection's runtime state: its durability log,
// vector store, graph index, and metadata index, plus the pipeline that
// applies mutations to all four in a consistent order.
type Collection struct {
	opts   Options
	kernel metric.Kernel
	nodeID uuid.UUID

	wal   *walog.Log
	store *segstore.Store
	index *hnsw.Graph
	meta  *metaindex.Index

	clock   replication.Clock
	tracker *replication.Tracker

	recordsMu sync.RWMutex
	records   map[uint32]*liveRecord

	sem       *semaphore.Weighted
	mutations chan func()
	workers   *pool.Pool
	stopCh    chan struct{}
	closeOnce sync.Once

	snapshotStop chan struct{}
	snapshotDone chan struct{}

	lastAccess atomic.Int64 // unix nanos
}

// snapshotPrewarmConcurrency bounds the worker pool snapshot.Load uses to
// fault in a restored archive's pages before decoding starts.
const snapshotPrewarmConcurrency = 4

// Open opens (or creates) the on-disk state for a collection and starts
// its mutation pipeline.
func Open(opts Options) (*Collection, error) {
	opts = opts.withDefaults()

	kernel, err := metric.New(opts.Metric, opts.Dimension)
	if err != nil {
		return nil, fmt.Errorf("collection: metric: %w", err)
	}
	if _, err := metric.NewCodec(opts.Quantization, opts.Metric); err != nil {
		return nil, fmt.Errorf("collection: quantization: %w", err)
	}

	meta, err := loadOrCreateMeta(opts.Dir, opts)
	if err != nil {
		return nil, err
	}

	wal, err := walog.Open(walog.Options{Dir: filepath.Join(opts.Dir, "wal"), Mode: opts.WALSyncMode})
	if err != nil {
		return nil, fmt.Errorf("collection: open wal: %w", err)
	}
	store, err := segstore.Open(filepath.Join(opts.Dir, "segments"), opts.Dimension, opts.Quantization)
	if err != nil {
		return nil, fmt.Errorf("collection: open store: %w", err)
	}

	// A snapshot, when present, is the fast path back to a live graph: it
	// is memory-mapped and its node table decoded directly rather than
	// rebuilt by replaying every historical insert (spec §4.5/§4.6). The
	// WAL is still replayed afterward, but only to recover state the
	// archive doesn't carry (metadata, tombstones, the live-record table)
	// and to apply whatever mutations landed after the snapshot was taken.
	snapshotPath := filepath.Join(opts.Dir, "snapshot.hsn")
	var (
		index         *hnsw.Graph
		snapshotClock uint64
		restored      map[uint32]uint32
	)
	if _, statErr := os.Stat(snapshotPath); statErr == nil {
		g, _, clock, loadErr := snapshot.Load(snapshotPath, kernel, opts.HNSW, snapshotPrewarmConcurrency)
		if loadErr != nil && !snapshot.IsIncompatibleVersion(loadErr) {
			return nil, fmt.Errorf("collection: load snapshot: %w", loadErr)
		}
		if loadErr == nil {
			index = g
			snapshotClock = clock
			restored = make(map[uint32]uint32)
			g.ForEachNode(func(internalID, externalID uint32, _ metric.Vector, _ metric.Aux, _ bool, _ [][]uint32) {
				restored[externalID] = internalID
			})
		}
	}
	if index == nil {
		index = hnsw.New(kernel, opts.HNSW)
	}

	c := &Collection{
		opts:         opts,
		kernel:       kernel,
		nodeID:       meta.NodeID,
		wal:          wal,
		store:        store,
		index:        index,
		meta:         metaindex.New(),
		tracker:      replication.NewTracker(),
		records:      make(map[uint32]*liveRecord),
		sem:          semaphore.NewWeighted(opts.MaxInFlight),
		mutations:    make(chan func(), opts.MutationQueue),
		stopCh:       make(chan struct{}),
		snapshotStop: make(chan struct{}),
		snapshotDone: make(chan struct{}),
	}

	if err := c.replayWAL(snapshotClock, restored); err != nil {
		return nil, fmt.Errorf("collection: replay wal: %w", err)
	}

	c.workers = pool.New().WithMaxGoroutines(1)
	c.workers.Go(c.runIndexer)

	if opts.SnapshotInterval > 0 {
		go c.runSnapshotTicker()
	} else {
		close(c.snapshotDone)
	}

	c.touch()
	return c, nil
}

// runSnapshotTicker periodically flushes a fresh graph snapshot to disk,
// the same stopCh/done pattern the collection manager's idle reaper uses.
func (c *Collection) runSnapshotTicker() {
	defer close(c.snapshotDone)
	ticker := time.NewTicker(c.opts.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.snapshotStop:
			return
		case <-ticker.C:
			_ = c.Flush()
		}
	}
}

func (c *Collection) runIndexer() {
	for {
		select {
		case <-c.stopCh:
			return
		case job := <-c.mutations:
			job()
		}
	}
}

// submit enqueues fn onto the single-worker pipeline and blocks until it
// runs or ctx is canceled, first checking the in-flight admission limit.
func (c *Collection) submit(ctx context.Context, fn func() error) error {
	if !c.sem.TryAcquire(1) {
		return ErrResourceExhausted
	}
	defer c.sem.Release(1)

	done := make(chan error, 1)
	select {
	case c.mutations <- func() { done <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return ErrClosed
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Insert upserts externalID: if it already exists, its prior vector and
// metadata are tombstoned/removed before the new version is written
// (spec §4.7 upsert semantics).
func (c *Collection) Insert(ctx context.Context, externalID uint32, vector metric.Vector, stringMeta map[string]string, numericMeta map[string]float64) error {
	c.touch()
	return c.submit(ctx, func() error {
		return c.doInsert(externalID, vector, stringMeta, numericMeta)
	})
}

func (c *Collection) doInsert(externalID uint32, vector metric.Vector, stringMeta map[string]string, numericMeta map[string]float64) error {
	if prior, ok := c.getRecord(externalID); ok {
		c.retireRecord(externalID, prior)
	}

	clock := c.clock.Tick()
	payload := walog.EncodeInsert(walog.InsertPayload{
		ExternalID:    externalID,
		Vector:        vector,
		Metadata:      stringMeta,
		TypedMetadata: numericMeta,
	})
	if err := c.wal.Append(walog.Record{LogicalClock: clock, OriginNodeID: c.nodeID, Kind: walog.OpInsert, Payload: payload}); err != nil {
		return fmt.Errorf("collection: wal append: %w", err)
	}

	globalID, err := c.store.Append(vector)
	if err != nil {
		return fmt.Errorf("collection: store append: %w", err)
	}
	internalID, err := c.index.Insert(vector, externalID)
	if err != nil {
		return fmt.Errorf("collection: index insert: %w", err)
	}

	for k, v := range stringMeta {
		c.meta.IndexString(k, v, externalID)
	}
	for k, v := range numericMeta {
		c.meta.IndexNumeric(k, v, externalID)
	}
	c.tracker.Insert(clock, externalID, vector)

	c.recordsMu.Lock()
	c.records[externalID] = &liveRecord{
		globalID:    globalID,
		internalID:  internalID,
		vector:      vector,
		stringMeta:  stringMeta,
		numericMeta: numericMeta,
	}
	c.recordsMu.Unlock()
	return nil
}

// Delete tombstones externalID.
func (c *Collection) Delete(ctx context.Context, externalID uint32) error {
	c.touch()
	return c.submit(ctx, func() error {
		return c.doDelete(externalID)
	})
}

func (c *Collection) doDelete(externalID uint32) error {
	rec, ok := c.getRecord(externalID)
	if !ok {
		return ErrNotFound
	}

	clock := c.clock.Tick()
	payload := walog.EncodeDelete(walog.DeletePayload{ExternalID: externalID})
	if err := c.wal.Append(walog.Record{LogicalClock: clock, OriginNodeID: c.nodeID, Kind: walog.OpDelete, Payload: payload}); err != nil {
		return fmt.Errorf("collection: wal append: %w", err)
	}

	c.tracker.Delete(clock, externalID, rec.vector)
	c.retireRecord(externalID, rec)

	c.recordsMu.Lock()
	delete(c.records, externalID)
	c.recordsMu.Unlock()
	return nil
}

// retireRecord tombstones rec's backing store/index/metadata entries
// without touching the records map (callers update that themselves).
func (c *Collection) retireRecord(externalID uint32, rec *liveRecord) {
	c.store.Delete(rec.globalID)
	c.index.Delete(rec.internalID)
	for k, v := range rec.stringMeta {
		c.meta.RemoveString(k, v, externalID)
	}
	for k, v := range rec.numericMeta {
		c.meta.RemoveNumeric(k, v, externalID)
	}
}

func (c *Collection) getRecord(externalID uint32) (*liveRecord, bool) {
	c.recordsMu.RLock()
	defer c.recordsMu.RUnlock()
	rec, ok := c.records[externalID]
	return rec, ok
}

// Search runs a k-nearest-neighbor query, optionally restricted by a
// metadata filter. A highly selective filter is applied as a pre-filter
// (brute force over the matched subset, since it is cheaper than
// beam-searching the whole graph); an unselective one is applied as a
// post-filter over an ordinary graph search (spec §4.4/§4.5).
func (c *Collection) Search(query metric.Vector, k, ef int, filter Filter) ([]hnsw.SearchResult, error) {
	c.touch()
	if filter.isEmpty() {
		return c.index.Search(query, k, ef)
	}

	matchSet := c.matches(filter)
	total := c.Count()
	strategy := metaindex.ChooseStrategy(int(matchSet.GetCardinality()), total)

	if strategy == metaindex.PreFilter {
		return c.bruteForceSearch(query, k, matchSet)
	}

	widened := ef
	if widened < k*4 {
		widened = k * 4
	}
	found, err := c.index.Search(query, widened, widened)
	if err != nil {
		return nil, err
	}
	out := make([]hnsw.SearchResult, 0, k)
	for _, r := range found {
		if !matchSet.Contains(r.ExternalID) {
			continue
		}
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (c *Collection) bruteForceSearch(query metric.Vector, k int, matchSet *roaring.Bitmap) ([]hnsw.SearchResult, error) {
	qAux, err := c.kernel.Prepare(append(metric.Vector(nil), query...))
	if err != nil {
		return nil, err
	}

	var results []hnsw.SearchResult
	for _, externalID := range matchSet.ToArray() {
		rec, ok := c.getRecord(externalID)
		if !ok {
			continue
		}
		recAux, err := c.kernel.Prepare(append(metric.Vector(nil), rec.vector...))
		if err != nil {
			continue
		}
		dist := c.kernel.Distance(query, qAux, rec.vector, recAux)
		results = append(results, hnsw.SearchResult{InternalID: rec.internalID, ExternalID: externalID, Distance: dist})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of live records.
func (c *Collection) Count() int {
	c.recordsMu.RLock()
	defer c.recordsMu.RUnlock()
	return len(c.records)
}

// QueueDepth reports how many accepted mutations are still waiting for
// the indexer worker to apply them.
func (c *Collection) QueueDepth() int { return len(c.mutations) }

// Digest returns the collection's current replication digest.
func (c *Collection) Digest() replication.Digest { return c.tracker.Snapshot() }

// Configure adjusts the graph's search/construction beam widths in place
// (spec §6 `Configure` RPC); zero values leave the corresponding setting
// unchanged.
func (c *Collection) Configure(efConstruction, efSearch int) {
	c.index.Reconfigure(efConstruction, efSearch)
}

// Dimension reports the collection's configured vector dimension.
func (c *Collection) Dimension() int { return c.opts.Dimension }

// Metric reports the collection's configured distance metric.
func (c *Collection) Metric() metric.Metric { return c.opts.Metric }

// RecordsSince implements replication.Source by re-reading the durable
// log and filtering to records with a logical clock past lastClock. It
// re-reads the whole WAL on every call rather than keeping an in-memory
// tail, which is simple and correct but means a long WAL makes a resync
// request more expensive; acceptable since replication catch-up is a cold
// path compared to the insert/search hot path.
func (c *Collection) RecordsSince(lastClock uint64) ([]walog.Record, error) {
	all, err := walog.Replay(filepath.Join(c.opts.Dir, "wal"))
	if err != nil {
		return nil, err
	}
	out := make([]walog.Record, 0, len(all))
	for _, rec := range all {
		if rec.LogicalClock > lastClock {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Flush writes a fresh graph snapshot to disk, recording the current
// Lamport clock so a later Load knows which WAL records it still needs
// replayed on top.
func (c *Collection) Flush() error {
	path := filepath.Join(c.opts.Dir, "snapshot.hsn")
	return snapshot.Save(path, c.index, c.opts.Dimension, c.opts.Metric, c.opts.Quantization, c.clock.Current())
}

// Close flushes a final snapshot and releases all backing resources.
func (c *Collection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		close(c.snapshotStop)
		c.workers.Wait()
		<-c.snapshotDone
		if ferr := c.Flush(); ferr != nil {
			err = ferr
		}
		if serr := c.store.Close(); serr != nil && err == nil {
			err = serr
		}
		if werr := c.wal.Close(); werr != nil && err == nil {
			err = werr
		}
	})
	return err
}

// IdleFor reports how long it has been since the collection last served
// a request, for the eviction reaper.
func (c *Collection) IdleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastAccess.Load()))
}

func (c *Collection) touch() { c.lastAccess.Store(time.Now().UnixNano()) }

// replayWAL rebuilds the metadata index and live-record table from the
// durable log, walking every record from the start regardless of whether
// a snapshot was loaded: segstore's GlobalIDs and the tombstone bitmap
// they drive are never themselves persisted, only reconstructed by
// counting every historical insert in order (spec §4.3). snapshotClock
// is 0 (meaning "no snapshot") or the logical clock the loaded archive
// was taken at; restored maps externalID to the internalID the snapshot
// already assigned a node, letting insert records at or before that
// clock skip the expensive graph insert — the node is already there —
// and instead just recover the metadata/tracker/live-record state the
// archive doesn't carry. Delete records need no such special-casing:
// hnsw.Graph.Delete is idempotent, so retiring a node the snapshot
// already shows as deleted is harmless.
func (c *Collection) replayWAL(snapshotClock uint64, restored map[uint32]uint32) error {
	records, err := walog.Replay(filepath.Join(c.opts.Dir, "wal"))
	if err != nil {
		return err
	}

	var nextGlobalID uint32
	for _, rec := range records {
		switch rec.Kind {
		case walog.OpInsert:
			p, err := walog.DecodeInsert(rec.Payload)
			if err != nil {
				return err
			}
			globalID := segstore.GlobalID(nextGlobalID)
			nextGlobalID++

			if internalID, ok := restored[p.ExternalID]; ok && rec.LogicalClock <= snapshotClock {
				c.applyInsertFromSnapshot(rec.LogicalClock, globalID, internalID, p)
				break
			}
			if err := c.applyInsertFromReplay(rec.LogicalClock, globalID, p); err != nil {
				return err
			}
		case walog.OpDelete:
			p, err := walog.DecodeDelete(rec.Payload)
			if err != nil {
				return err
			}
			if rec2, ok := c.getRecord(p.ExternalID); ok {
				c.tracker.Delete(rec.LogicalClock, p.ExternalID, rec2.vector)
				c.retireRecord(p.ExternalID, rec2)
				c.recordsMu.Lock()
				delete(c.records, p.ExternalID)
				c.recordsMu.Unlock()
			}
		}
		c.clock.Observe(rec.LogicalClock)
	}
	return nil
}

// applyInsertFromSnapshot recovers the metadata/tracker/live-record state
// for an insert record the loaded snapshot already reflects in the
// graph, reusing the internalID the snapshot restored rather than
// inserting the vector into the graph a second time.
func (c *Collection) applyInsertFromSnapshot(clock uint64, globalID segstore.GlobalID, internalID uint32, p walog.InsertPayload) {
	if prior, ok := c.getRecord(p.ExternalID); ok {
		// Tombstones a stale segstore globalID an earlier pre-snapshot
		// upsert of this externalID left behind; retireRecord's graph
		// delete is harmless here since the snapshot already restored
		// that node as deleted.
		c.retireRecord(p.ExternalID, prior)
	}

	for k, v := range p.Metadata {
		c.meta.IndexString(k, v, p.ExternalID)
	}
	for k, v := range p.TypedMetadata {
		c.meta.IndexNumeric(k, v, p.ExternalID)
	}
	c.tracker.Insert(clock, p.ExternalID, p.Vector)

	c.recordsMu.Lock()
	c.records[p.ExternalID] = &liveRecord{
		globalID:    globalID,
		internalID:  internalID,
		vector:      p.Vector,
		stringMeta:  p.Metadata,
		numericMeta: p.TypedMetadata,
	}
	c.recordsMu.Unlock()
}

// applyInsertFromReplay mirrors doInsert but takes the GlobalID segstore
// already assigned this vector instead of appending it again, and skips
// re-appending to the WAL since the record came from the WAL itself.
func (c *Collection) applyInsertFromReplay(clock uint64, globalID segstore.GlobalID, p walog.InsertPayload) error {
	if prior, ok := c.getRecord(p.ExternalID); ok {
		c.retireRecord(p.ExternalID, prior)
	}

	internalID, err := c.index.Insert(p.Vector, p.ExternalID)
	if err != nil {
		return err
	}
	for k, v := range p.Metadata {
		c.meta.IndexString(k, v, p.ExternalID)
	}
	for k, v := range p.TypedMetadata {
		c.meta.IndexNumeric(k, v, p.ExternalID)
	}
	c.tracker.Insert(clock, p.ExternalID, p.Vector)

	c.recordsMu.Lock()
	c.records[p.ExternalID] = &liveRecord{
		globalID:    globalID,
		internalID:  internalID,
		vector:      p.Vector,
		stringMeta:  p.Metadata,
		numericMeta: p.TypedMetadata,
	}
	c.recordsMu.Unlock()
	return nil
}
