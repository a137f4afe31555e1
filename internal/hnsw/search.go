package hnsw

import (
	"container/heap"

	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

// searchLayer runs a bounded beam search at layer starting from
// entryPoints, returning up to ef live candidates ordered closest-first.
// Tombstoned nodes are still traversed (they keep the graph connected)
// but are excluded from the result set.
func (g *Graph) searchLayer(qVector metric.Vector, qAux metric.Aux, entryPoints []uint32, ef int, layer int) []candidate {
	visited := make(map[uint32]bool)
	candidates := newMinHeap()
	results := newMaxHeap()

	consider := func(id uint32) {
		if visited[id] {
			return
		}
		visited[id] = true
		n := g.nodeAt(id)
		if n == nil {
			return
		}
		proxy := g.proxyToQuery(qVector, qAux, n)
		worstAllowed := results.Len() < ef
		if !worstAllowed {
			worstAllowed = proxy < (*results)[0].proxy
		}
		if !worstAllowed {
			return
		}
		heap.Push(candidates, candidate{id: id, proxy: proxy})
		if !n.deleted.Load() {
			heap.Push(results, candidate{id: id, proxy: proxy})
			if results.Len() > ef {
				heap.Pop(results)
			}
		}
	}

	for _, ep := range entryPoints {
		consider(ep)
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)
		if results.Len() >= ef && c.proxy > (*results)[0].proxy {
			break
		}
		n := g.nodeAt(c.id)
		if n == nil || !n.hasLayer(layer) {
			continue
		}
		for _, nb := range n.neighbors[layer].snapshot() {
			consider(nb)
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// greedyDescend walks from a single entry point down to (but not
// including) targetLayer, keeping only the single closest node found at
// each layer — the cheap upper-layer traversal used both by Insert (to
// find where to start beam search at its target layers) and Search.
func (g *Graph) greedyDescend(qVector metric.Vector, qAux metric.Aux, from uint32, fromLayer, targetLayer int) uint32 {
	current := from
	for layer := fromLayer; layer > targetLayer; layer-- {
		improved := true
		for improved {
			improved = false
			n := g.nodeAt(current)
			if n == nil || !n.hasLayer(layer) {
				break
			}
			best := current
			bestProxy := g.proxyToQuery(qVector, qAux, n)
			for _, nb := range n.neighbors[layer].snapshot() {
				nbNode := g.nodeAt(nb)
				if nbNode == nil {
					continue
				}
				p := g.proxyToQuery(qVector, qAux, nbNode)
				if p < bestProxy || (p == bestProxy && nb < best) {
					best = nb
					bestProxy = p
					improved = true
				}
			}
			current = best
		}
	}
	return current
}

// SearchResult is one ranked hit returned by Search.
type SearchResult struct {
	InternalID uint32
	ExternalID uint32
	Distance   float64
}

// Search returns up to k nearest live neighbors of query, exploring with
// beam width ef (falls back to the graph's configured EfSearch when
// ef <= 0, and is raised to at least k since a narrower beam can never
// return k distinct results).
func (g *Graph) Search(query metric.Vector, k int, ef int) ([]SearchResult, error) {
	qAux, err := g.kernel.Prepare(append(metric.Vector(nil), query...))
	if err != nil {
		return nil, err
	}
	if ef <= 0 {
		ef = int(g.efSearch.Load())
	}
	if ef < k {
		ef = k
	}

	ep := g.entryPoint.Load()
	if ep == nil {
		return nil, nil
	}

	entry := g.greedyDescend(query, qAux, ep.nodeID, ep.layer, 0)
	found := g.searchLayer(query, qAux, []uint32{entry}, ef, 0)

	if len(found) > k {
		found = found[:k]
	}
	out := make([]SearchResult, 0, len(found))
	for _, c := range found {
		n := g.nodeAt(c.id)
		if n == nil {
			continue
		}
		dist := g.kernel.Distance(query, qAux, n.vector, n.aux)
		out = append(out, SearchResult{InternalID: n.internalID, ExternalID: n.externalID, Distance: dist})
	}
	return out, nil
}
