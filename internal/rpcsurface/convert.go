package rpcsurface

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperspacedb/hyperspacedb/internal/catalog"
	"github.com/hyperspacedb/hyperspacedb/internal/collection"
	"github.com/hyperspacedb/hyperspacedb/internal/hnsw"
	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

func parseMetric(s string) (metric.Metric, error) {
	switch strings.ToLower(s) {
	case "l2", "":
		return metric.L2, nil
	case "cosine":
		return metric.Cosine, nil
	case "poincare", "poincaré":
		return metric.Poincare, nil
	default:
		return "", fmt.Errorf("unknown metric %q", s)
	}
}

func parseQuantization(s string) (metric.Quantization, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return metric.None, nil
	case "scalar":
		return metric.ScalarI8, nil
	case "binary":
		return metric.Binary, nil
	default:
		return "", fmt.Errorf("unknown quantization %q", s)
	}
}

func isAlreadyExists(err error) bool {
	return errors.Is(err, catalog.ErrAlreadyExists)
}

func isNotFound(err error) bool {
	return errors.Is(err, catalog.ErrNotFound) || errors.Is(err, collection.ErrNotFound)
}

func toServiceError(op string, err error) error {
	switch {
	case errors.Is(err, collection.ErrNotFound):
		return newError(op, NotFound, err)
	case errors.Is(err, collection.ErrResourceExhausted):
		return newError(op, ResourceExhausted, err)
	case errors.Is(err, collection.ErrClosed):
		return newError(op, Transient, err)
	default:
		return newError(op, Transient, err)
	}
}

// fuseWithLexical re-ranks hits by reciprocal rank fusion against a
// caller-supplied lexical ranking, using the vector-search order as the
// first ranking input (spec §6 hybrid_query/hybrid_alpha).
func fuseWithLexical(hits []SearchHit, lexicalRanked []uint32, alpha float64) []SearchHit {
	if alpha <= 0 {
		alpha = 1.0
	}
	vectorRanked := make([]uint32, len(hits))
	byID := make(map[uint32]SearchHit, len(hits))
	for i, h := range hits {
		vectorRanked[i] = h.ID
		byID[h.ID] = h
	}

	fused := hnsw.FuseRRF(vectorRanked, lexicalRanked, alpha)

	out := make([]SearchHit, 0, len(fused))
	for _, f := range fused {
		h, ok := byID[f.ExternalID]
		if !ok {
			h = SearchHit{ID: f.ExternalID}
		}
		out = append(out, h)
	}
	return out
}
