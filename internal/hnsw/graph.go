package hnsw

import (
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

// Config tunes graph construction and search (spec §6 env vars
// HNSW_M, HNSW_EF_CONSTRUCTION, HNSW_EF_SEARCH).
type Config struct {
	M              int
	EfConstruction int
	EfSearch       int
}

func (c Config) withDefaults() Config {
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 64
	}
	return c
}

// entryPointCell is the lock-free head of the graph: the currently
// highest-layer node to start every search/insert descent from.
type entryPointCell struct {
	nodeID uint32
	layer  int
}

// Graph is a concurrent HNSW proximity index over one collection's
// vectors. Reads (Search) and writes (Insert/Delete) may run
// concurrently; each node's neighbor lists carry their own lock and the
// entry point is updated via atomic CAS, so there is no global write
// lock on the graph.
type Graph struct {
	kernel metric.Kernel
	m      int
	mL     float64

	efConstruction atomic.Int64
	efSearch       atomic.Int64

	arenaMu sync.RWMutex
	arena   []*node

	entryPoint atomic.Pointer[entryPointCell]

	randMu sync.Mutex
	rand   *rand.Rand
}

// New constructs an empty graph over the given metric kernel.
func New(kernel metric.Kernel, cfg Config) *Graph {
	cfg = cfg.withDefaults()
	g := &Graph{
		kernel: kernel,
		m:      cfg.M,
		mL:     1.0 / math.Log(float64(cfg.M)),
		rand:   rand.New(rand.NewSource(1)),
	}
	g.efConstruction.Store(int64(cfg.EfConstruction))
	g.efSearch.Store(int64(cfg.EfSearch))
	return g
}

// Reconfigure adjusts the graph's search/construction beam widths in
// place (spec §6 `Configure` RPC). M is fixed at construction time since
// changing it would require rebuilding existing adjacency lists.
func (g *Graph) Reconfigure(efConstruction, efSearch int) {
	if efConstruction > 0 {
		g.efConstruction.Store(int64(efConstruction))
	}
	if efSearch > 0 {
		g.efSearch.Store(int64(efSearch))
	}
}

func (g *Graph) sampleLevel() int {
	g.randMu.Lock()
	u := g.rand.Float64()
	g.randMu.Unlock()
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	return int(math.Floor(-math.Log(u) * g.mL))
}

func (g *Graph) nodeAt(id uint32) *node {
	g.arenaMu.RLock()
	defer g.arenaMu.RUnlock()
	if int(id) >= len(g.arena) {
		return nil
	}
	return g.arena[id]
}

func (g *Graph) appendNode(n *node) {
	g.arenaMu.Lock()
	g.arena = append(g.arena, n)
	g.arenaMu.Unlock()
}

func (g *Graph) size() int {
	g.arenaMu.RLock()
	defer g.arenaMu.RUnlock()
	return len(g.arena)
}

// Len returns the number of nodes ever inserted, including tombstoned
// ones (spec's internal ids are never reused).
func (g *Graph) Len() int { return g.size() }

// Delete tombstones internalID. Its edges are left in place; they are
// skipped during traversal (see search.go) and pruned opportunistically
// next time a neighboring node's list is rewritten.
func (g *Graph) Delete(internalID uint32) {
	if n := g.nodeAt(internalID); n != nil {
		n.deleted.Store(true)
	}
}

// ExternalID returns the caller-facing id stored for internalID.
func (g *Graph) ExternalID(internalID uint32) (uint32, bool) {
	n := g.nodeAt(internalID)
	if n == nil {
		return 0, false
	}
	return n.externalID, true
}

func (g *Graph) proxy(a *node, b *node) float64 {
	return g.kernel.Proxy(a.vector, a.aux, b.vector, b.aux)
}

func (g *Graph) proxyToQuery(q metric.Vector, qAux metric.Aux, b *node) float64 {
	return g.kernel.Proxy(q, qAux, b.vector, b.aux)
}
