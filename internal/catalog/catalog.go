// Package catalog persists collection metadata (dimension, metric,
// quantization, lifecycle state) in an embedded libsql database, migrated
// with goose the way the teacher's database layer does it.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// State is a collection's lifecycle state.
type State string

const (
	StateActive  State = "active"
	StateEvicted State = "evicted"
	StateDropped State = "dropped"
)

// Record is one collection's catalog row.
type Record struct {
	Name         string
	TenantID     string
	Dimension    int
	Metric       metric.Metric
	Quantization metric.Quantization
	State        State
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ErrAlreadyExists is returned by Create when a collection name is already
// registered for its tenant.
var ErrAlreadyExists = errors.New("catalog: collection already exists")

// ErrNotFound is returned when a named collection has no catalog row.
var ErrNotFound = errors.New("catalog: collection not found")

// Catalog is the embedded metadata store backing the collection registry.
type Catalog struct {
	db *sql.DB
}

// Open connects to (creating if absent) the libsql database at path and
// brings its schema up to date.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("catalog: create dir %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectTurso, db, migrationFiles, goose.WithVerbose(false))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: migration provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error { return c.db.Close() }

// Create registers a new collection row, rejecting a duplicate name within
// the same tenant.
func (c *Catalog) Create(ctx context.Context, r Record) error {
	if r.TenantID == "" {
		r.TenantID = "default"
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO collections (name, tenant_id, dimension, metric, quantization, state)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.Name, r.TenantID, r.Dimension, string(r.Metric), string(r.Quantization), string(StateActive),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("catalog: insert %s: %w", r.Name, err)
	}
	return nil
}

// Get fetches a collection's catalog row by name.
func (c *Catalog) Get(ctx context.Context, name string) (Record, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT name, tenant_id, dimension, metric, quantization, state, created_at, updated_at
		FROM collections WHERE name = ?`, name)
	return scanRecord(row)
}

// List returns every catalog row, optionally restricted to one tenant.
func (c *Catalog) List(ctx context.Context, tenantID string) ([]Record, error) {
	query := `SELECT name, tenant_id, dimension, metric, quantization, state, created_at, updated_at FROM collections`
	args := []any{}
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY name`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetState transitions a collection's lifecycle state.
func (c *Catalog) SetState(ctx context.Context, name string, state State) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE collections SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?`,
		string(state), name,
	)
	if err != nil {
		return fmt.Errorf("catalog: set state %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: set state %s: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a collection's catalog row entirely.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("catalog: delete %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: delete %s: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	var m, q, s string
	if err := row.Scan(&r.Name, &r.TenantID, &r.Dimension, &m, &q, &s, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("catalog: scan: %w", err)
	}
	r.Metric = metric.Metric(m)
	r.Quantization = metric.Quantization(q)
	r.State = State(s)
	return r, nil
}

func isUniqueViolation(err error) bool {
	// libsql/sqlite report constraint violations as plain text errors with
	// no typed sentinel, so match on the message the driver produces.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint violation")
}
