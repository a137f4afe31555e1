package hnsw

import "container/heap"

// candidate is a graph node reached during search, scored by the
// kernel's monotone proxy distance (spec §4.1's proxy/distance split:
// traversal never needs the true distance, only its ordering).
type candidate struct {
	id    uint32
	proxy float64
}

// less breaks proxy ties by ascending internal id, the deterministic
// tie-break spec §4.5 requires so repeated searches over an unchanged
// graph return identical results.
func less(a, b candidate) bool {
	if a.proxy != b.proxy {
		return a.proxy < b.proxy
	}
	return a.id < b.id
}

// minHeap pops the closest candidate first; used as the exploration
// frontier during beam search.
type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxHeap pops the farthest candidate first; used to hold the current
// best-ef set so the farthest can be evicted in O(log ef) when a closer
// candidate is found.
type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return less(h[j], h[i]) }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func newMinHeap() *minHeap {
	h := &minHeap{}
	heap.Init(h)
	return h
}

func newMaxHeap() *maxHeap {
	h := &maxHeap{}
	heap.Init(h)
	return h
}
