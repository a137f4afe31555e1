package hnsw

import "sort"

// selectNeighbors applies the diversity-preserving heuristic from the
// HNSW construction algorithm: candidates are considered in ascending
// distance-to-target order, and a candidate is kept only if it is closer
// to the target than it is to every neighbor already kept. This avoids
// linking a node to a cluster of near-duplicates when a single
// representative would route search just as well.
func (g *Graph) selectNeighbors(target *node, candidates []candidate, m int) []uint32 {
	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	selected := make([]*node, 0, m)
	var selectedIDs []uint32

	for _, c := range sorted {
		if len(selected) >= m {
			break
		}
		cNode := g.nodeAt(c.id)
		if cNode == nil || cNode.deleted.Load() {
			continue
		}
		goodCandidate := true
		for _, s := range selected {
			if g.proxy(cNode, s) < c.proxy {
				goodCandidate = false
				break
			}
		}
		if goodCandidate {
			selected = append(selected, cNode)
			selectedIDs = append(selectedIDs, c.id)
		}
	}

	// Backfill with the next-closest candidates if the heuristic pruned
	// too aggressively and left the neighbor list under capacity.
	if len(selectedIDs) < m {
		have := make(map[uint32]bool, len(selectedIDs))
		for _, id := range selectedIDs {
			have[id] = true
		}
		for _, c := range sorted {
			if len(selectedIDs) >= m {
				break
			}
			if have[c.id] {
				continue
			}
			cNode := g.nodeAt(c.id)
			if cNode == nil || cNode.deleted.Load() {
				continue
			}
			selectedIDs = append(selectedIDs, c.id)
		}
	}

	return selectedIDs
}
