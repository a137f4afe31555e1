package hnsw

import "github.com/hyperspacedb/hyperspacedb/internal/metric"

// ForEachNode walks every node in ascending internal-id order, exposing
// its full state for archival. Used only by the snapshot engine.
func (g *Graph) ForEachNode(fn func(internalID, externalID uint32, vector metric.Vector, aux metric.Aux, deleted bool, neighbors [][]uint32)) {
	g.arenaMu.RLock()
	nodes := make([]*node, len(g.arena))
	copy(nodes, g.arena)
	g.arenaMu.RUnlock()

	for _, n := range nodes {
		neighbors := make([][]uint32, len(n.neighbors))
		for layer, adj := range n.neighbors {
			neighbors[layer] = adj.snapshot()
		}
		fn(n.internalID, n.externalID, n.vector, n.aux, n.deleted.Load(), neighbors)
	}
}

// EntryPoint returns the graph's current entry point, if any.
func (g *Graph) EntryPoint() (nodeID uint32, layer int, ok bool) {
	ep := g.entryPoint.Load()
	if ep == nil {
		return 0, 0, false
	}
	return ep.nodeID, ep.layer, true
}

// RestoreNode appends a node reconstructed from an archive directly into
// the arena at the next internal id, bypassing Insert's graph-building
// algorithm (the archive already carries the finished neighbor lists).
// Callers must restore nodes in ascending internalID order starting
// from 0.
func (g *Graph) RestoreNode(internalID, externalID uint32, vector metric.Vector, aux metric.Aux, deleted bool, neighbors [][]uint32) {
	n := newNode(internalID, externalID, vector, aux, len(neighbors)-1)
	for layer, ids := range neighbors {
		n.neighbors[layer].set(ids)
	}
	if deleted {
		n.deleted.Store(true)
	}
	g.appendNode(n)
}

// RestoreEntryPoint sets the graph's entry point directly, for use after
// a sequence of RestoreNode calls has rebuilt the arena.
func (g *Graph) RestoreEntryPoint(nodeID uint32, layer int) {
	g.entryPoint.Store(&entryPointCell{nodeID: nodeID, layer: layer})
}
