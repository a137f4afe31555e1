package hnsw

import "github.com/hyperspacedb/hyperspacedb/internal/metric"

// Insert adds a vector under externalID to the graph and returns its
// internal id. The vector and its kernel-prepared auxiliary state are
// frozen into the node at construction; callers must not mutate the
// slice afterward (Cosine kernels already normalize it in place during
// Prepare, so the copy handed to Insert becomes the node's vector).
func (g *Graph) Insert(vector metric.Vector, externalID uint32) (uint32, error) {
	v := append(metric.Vector(nil), vector...)
	aux, err := g.kernel.Prepare(v)
	if err != nil {
		return 0, err
	}

	level := g.sampleLevel()
	internalID := uint32(g.size())
	n := newNode(internalID, externalID, v, aux, level)
	g.appendNode(n)

	ep := g.entryPoint.Load()
	if ep == nil {
		g.entryPoint.CompareAndSwap(nil, &entryPointCell{nodeID: internalID, layer: level})
		return internalID, nil
	}

	entry := g.greedyDescend(v, aux, ep.nodeID, ep.layer, min(level, ep.layer))

	for layer := min(level, ep.layer); layer >= 0; layer-- {
		maxNeighbors := g.m
		if layer == 0 {
			maxNeighbors = g.m * 2
		}

		found := g.searchLayer(v, aux, []uint32{entry}, int(g.efConstruction.Load()), layer)
		neighborIDs := g.selectNeighbors(n, found, maxNeighbors)
		n.neighbors[layer].set(neighborIDs)

		for _, nbID := range neighborIDs {
			g.linkBidirectional(internalID, nbID, layer, maxNeighbors)
		}

		if len(found) > 0 {
			entry = found[0].id
		}
	}

	if level > ep.layer {
		for {
			current := g.entryPoint.Load()
			if current != nil && current.layer >= level {
				break
			}
			if g.entryPoint.CompareAndSwap(current, &entryPointCell{nodeID: internalID, layer: level}) {
				break
			}
		}
	}

	return internalID, nil
}

// linkBidirectional adds internalID to nbID's neighbor list at layer,
// pruning nbID's list back down to maxNeighbors via the same diversity
// heuristic used at construction if it overflows.
func (g *Graph) linkBidirectional(internalID, nbID uint32, layer int, maxNeighbors int) {
	nb := g.nodeAt(nbID)
	if nb == nil || !nb.hasLayer(layer) {
		return
	}
	adj := nb.neighbors[layer]
	adj.add(internalID)

	current := adj.snapshot()
	if len(current) <= maxNeighbors {
		return
	}

	candidates := make([]candidate, 0, len(current))
	for _, id := range current {
		other := g.nodeAt(id)
		if other == nil {
			continue
		}
		candidates = append(candidates, candidate{id: id, proxy: g.proxy(nb, other)})
	}
	pruned := g.selectNeighbors(nb, candidates, maxNeighbors)
	adj.set(pruned)
}
