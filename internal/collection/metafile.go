package collection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hyperspacedb/hyperspacedb/internal/hnsw"
)

const metaFileName = "meta.json"

// sidecarMeta is the on-disk description of a collection's own
// configuration, written once at creation so the collection is
// self-describing and can be re-instantiated from its data directory
// alone, independent of the catalog.
type sidecarMeta struct {
	Dimension      int       `json:"dimension"`
	Metric         string    `json:"metric"`
	Quantization   string    `json:"quantization"`
	M              int       `json:"m"`
	EfConstruction int       `json:"ef_construction"`
	EfSearch       int       `json:"ef_search"`
	NodeID         uuid.UUID `json:"node_id"`
}

// loadOrCreateMeta reads dir's meta.json sidecar if present, validating it
// against opts, or writes a fresh one (with a newly minted node id) if
// this is the collection's first open.
func loadOrCreateMeta(dir string, opts Options) (sidecarMeta, error) {
	path := filepath.Join(dir, metaFileName)

	raw, err := os.ReadFile(path)
	if err == nil {
		var m sidecarMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return sidecarMeta{}, fmt.Errorf("collection: parse %s: %w", path, err)
		}
		if m.Dimension != opts.Dimension {
			return sidecarMeta{}, fmt.Errorf("collection: %s dimension %d does not match configured %d", path, m.Dimension, opts.Dimension)
		}
		if m.Metric != string(opts.Metric) {
			return sidecarMeta{}, fmt.Errorf("collection: %s metric %q does not match configured %q", path, m.Metric, opts.Metric)
		}
		if m.Quantization != string(opts.Quantization) {
			return sidecarMeta{}, fmt.Errorf("collection: %s quantization %q does not match configured %q", path, m.Quantization, opts.Quantization)
		}
		return m, nil
	}
	if !os.IsNotExist(err) {
		return sidecarMeta{}, fmt.Errorf("collection: read %s: %w", path, err)
	}

	cfg := opts.HNSW
	var zero hnsw.Config
	if cfg == zero {
		cfg = hnsw.Config{M: 16, EfConstruction: 200, EfSearch: 64}
	}

	m := sidecarMeta{
		Dimension:      opts.Dimension,
		Metric:         string(opts.Metric),
		Quantization:   string(opts.Quantization),
		M:              cfg.M,
		EfConstruction: cfg.EfConstruction,
		EfSearch:       cfg.EfSearch,
		NodeID:         uuid.New(),
	}
	if err := writeMeta(dir, m); err != nil {
		return sidecarMeta{}, err
	}
	return m, nil
}

func writeMeta(dir string, m sidecarMeta) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("collection: create dir %s: %w", dir, err)
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("collection: marshal meta.json: %w", err)
	}
	path := filepath.Join(dir, metaFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("collection: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("collection: rename %s: %w", tmp, err)
	}
	return nil
}
