package hnsw

import "sort"

// rrfK0 is the rank-damping constant from the reciprocal rank fusion
// formula (spec §4.5 hybrid search): score = 1 / (k0 + rank).
const rrfK0 = 60

// FusedResult is one hybrid search hit after vector and lexical rankings
// have been combined.
type FusedResult struct {
	ExternalID uint32
	Score      float64
}

// FuseRRF combines a vector-search ranking and a lexical-search ranking
// (both ascending: index 0 is the best match) via reciprocal rank
// fusion, weighting the lexical contribution by alpha so callers can
// bias toward vector similarity (alpha < 1) or keyword relevance
// (alpha > 1).
func FuseRRF(vectorRanked, lexicalRanked []uint32, alpha float64) []FusedResult {
	scores := make(map[uint32]float64)
	for rank, id := range vectorRanked {
		scores[id] += 1.0 / float64(rrfK0+rank+1)
	}
	for rank, id := range lexicalRanked {
		scores[id] += alpha / float64(rrfK0+rank+1)
	}

	out := make([]FusedResult, 0, len(scores))
	for id, score := range scores {
		out = append(out, FusedResult{ExternalID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}
