// Package hnsw implements the hierarchical navigable small-world proximity
// graph used for approximate nearest-neighbor search (spec §4.5): a
// multi-layer skip-list-like structure over vectors, searched by greedy
// descent through upper layers and a bounded beam search at layer 0.
package hnsw

import (
	"sync"
	"sync/atomic"

	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

// layerAdjacency is one node's neighbor list at one layer.
type layerAdjacency struct {
	mu  sync.RWMutex
	ids []uint32
}

func (a *layerAdjacency) snapshot() []uint32 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]uint32, len(a.ids))
	copy(out, a.ids)
	return out
}

func (a *layerAdjacency) set(ids []uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = ids
}

func (a *layerAdjacency) add(id uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, id)
}

// node is one vector's graph presence. Vector/Aux are immutable after
// construction (Cosine normalization already applied by the kernel), so
// reads need no lock; neighbor lists have their own per-layer lock.
type node struct {
	internalID uint32
	externalID uint32
	vector     metric.Vector
	aux        metric.Aux
	neighbors  []*layerAdjacency // index 0 = layer 0 ... index maxLayer
	deleted    atomic.Bool
}

func newNode(internalID, externalID uint32, v metric.Vector, aux metric.Aux, maxLayer int) *node {
	n := &node{
		internalID: internalID,
		externalID: externalID,
		vector:     v,
		aux:        aux,
		neighbors:  make([]*layerAdjacency, maxLayer+1),
	}
	for i := range n.neighbors {
		n.neighbors[i] = &layerAdjacency{}
	}
	return n
}

func (n *node) topLayer() int { return len(n.neighbors) - 1 }

func (n *node) hasLayer(layer int) bool { return layer <= n.topLayer() }
