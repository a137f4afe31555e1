package collection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperspacedb/hyperspacedb/internal/catalog"
	"github.com/hyperspacedb/hyperspacedb/internal/hnsw"
	"github.com/hyperspacedb/hyperspacedb/internal/metric"
	"github.com/hyperspacedb/hyperspacedb/internal/walog"
)

// ManagerConfig carries the process-wide defaults the Manager applies to
// every collection it opens.
type ManagerConfig struct {
	DataDir          string
	HNSW             hnsw.Config
	WALSyncMode      walog.SyncMode
	IdleEvictAfter   time.Duration
	ReapInterval     time.Duration
	SnapshotInterval time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.ReapInterval <= 0 {
		c.ReapInterval = 30 * time.Second
	}
	if c.IdleEvictAfter <= 0 {
		c.IdleEvictAfter = 30 * time.Minute
	}
	return c
}

// Manager is the process-wide registry of collections. Catalog rows are
// the durable source of truth for a collection's existence and schema;
// Manager opens a collection's on-disk state lazily on first access and
// evicts it (flushing a final snapshot first) after it has sat idle,
// keeping memory bounded when many collections are registered but only a
// few are in active use (spec §4.7/§6).
type Manager struct {
	cat *catalog.Catalog
	cfg ManagerConfig

	mu   sync.Mutex
	open map[string]*Collection

	stopCh chan struct{}
	done   chan struct{}
}

// NewManager constructs a Manager and starts its idle-eviction reaper.
func NewManager(cat *catalog.Catalog, cfg ManagerConfig) *Manager {
	m := &Manager{
		cat:    cat,
		cfg:    cfg.withDefaults(),
		open:   make(map[string]*Collection),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go m.runReaper()
	return m
}

// Create registers a new collection in the catalog and opens it.
func (m *Manager) Create(ctx context.Context, name, tenantID string, dimension int, met metric.Metric, quant metric.Quantization) error {
	if err := m.cat.Create(ctx, catalog.Record{
		Name:         name,
		TenantID:     tenantID,
		Dimension:    dimension,
		Metric:       met,
		Quantization: quant,
	}); err != nil {
		return err
	}
	_, err := m.openOrGet(ctx, name)
	return err
}

// Get returns the running Collection for name, opening it from disk if it
// is not already resident in memory.
func (m *Manager) Get(ctx context.Context, name string) (*Collection, error) {
	return m.openOrGet(ctx, name)
}

func (m *Manager) openOrGet(ctx context.Context, name string) (*Collection, error) {
	m.mu.Lock()
	if c, ok := m.open[name]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	rec, err := m.cat.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec.State == catalog.StateDropped {
		return nil, fmt.Errorf("collection: %q has been dropped: %w", name, catalog.ErrNotFound)
	}

	c, err := Open(Options{
		Name:             name,
		Dir:              filepath.Join(m.cfg.DataDir, name),
		Dimension:        rec.Dimension,
		Metric:           rec.Metric,
		Quantization:     rec.Quantization,
		HNSW:             m.cfg.HNSW,
		WALSyncMode:      m.cfg.WALSyncMode,
		SnapshotInterval: m.cfg.SnapshotInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("collection: open %q: %w", name, err)
	}
	if rec.State != catalog.StateActive {
		if err := m.cat.SetState(ctx, name, catalog.StateActive); err != nil {
			c.Close()
			return nil, fmt.Errorf("collection: reactivate %q: %w", name, err)
		}
	}

	m.mu.Lock()
	if existing, ok := m.open[name]; ok {
		m.mu.Unlock()
		c.Close()
		return existing, nil
	}
	m.open[name] = c
	m.mu.Unlock()
	return c, nil
}

// List returns the catalog rows for every collection (optionally scoped
// to one tenant).
func (m *Manager) List(ctx context.Context, tenantID string) ([]catalog.Record, error) {
	return m.cat.List(ctx, tenantID)
}

// Drop marks a collection dropped in the catalog, evicts its in-memory
// state, and removes its on-disk directory.
func (m *Manager) Drop(ctx context.Context, name string) error {
	if err := m.cat.SetState(ctx, name, catalog.StateDropped); err != nil {
		return err
	}

	m.mu.Lock()
	c, ok := m.open[name]
	delete(m.open, name)
	m.mu.Unlock()

	if ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("collection: close %q during drop: %w", name, err)
		}
	}

	if err := m.cat.Delete(ctx, name); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(m.cfg.DataDir, name))
}

// evict closes and forgets a collection's in-memory state without
// touching its catalog row or on-disk data, so a later Get reopens it
// fresh from the durable log and store.
func (m *Manager) evict(name string) error {
	m.mu.Lock()
	c, ok := m.open[name]
	if ok {
		delete(m.open, name)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close()
}

func (m *Manager) runReaper() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *Manager) reapIdle() {
	m.mu.Lock()
	var idle []string
	for name, c := range m.open {
		if c.IdleFor() >= m.cfg.IdleEvictAfter {
			idle = append(idle, name)
		}
	}
	m.mu.Unlock()

	for _, name := range idle {
		if err := m.evict(name); err != nil {
			continue
		}
		_ = m.cat.SetState(context.Background(), name, catalog.StateEvicted)
	}
}

// Close stops the reaper and closes every resident collection.
func (m *Manager) Close() error {
	close(m.stopCh)
	<-m.done

	m.mu.Lock()
	names := make([]string, 0, len(m.open))
	for name := range m.open {
		names = append(names, name)
	}
	m.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := m.evict(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
