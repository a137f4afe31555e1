// Package rpcsurface is the process's typed request/response contract
// (spec §6/§7): one method per operation, taking and returning plain
// structs that mirror the wire contract field-for-field. No transport
// (gRPC/HTTP) lives here — a transport adapter outside this repo's scope
// would marshal these structs to and from the wire.
package rpcsurface

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/hyperspacedb/hyperspacedb/internal/collection"
	"github.com/hyperspacedb/hyperspacedb/internal/metric"
	"github.com/hyperspacedb/hyperspacedb/internal/replication"
)

// Service implements the Database RPC surface over a collection Manager.
type Service struct {
	manager   *collection.Manager
	apiKey    [32]byte
	hasAPIKey bool
	validator *schemaValidator
	log       zerolog.Logger
}

// NewService constructs a Service. apiKey is hashed once at startup; pass
// an empty string to disable authentication (every request is accepted).
func NewService(manager *collection.Manager, apiKey string, log zerolog.Logger) *Service {
	s := &Service{manager: manager, validator: newSchemaValidator(), log: log}
	if apiKey != "" {
		s.apiKey = sha256.Sum256([]byte(apiKey))
		s.hasAPIKey = true
	}
	return s
}

// Authenticate compares a caller-supplied api_key header against the
// configured key using a constant-time hash comparison, so a failed
// guess leaks no timing signal about which prefix bytes matched.
func (s *Service) Authenticate(apiKey string) error {
	if !s.hasAPIKey {
		return nil
	}
	got := sha256.Sum256([]byte(apiKey))
	if subtle.ConstantTimeCompare(got[:], s.apiKey[:]) != 1 {
		return newError("Authenticate", Unauthorized, fmt.Errorf("invalid api key"))
	}
	return nil
}

func tenantOrDefault(tenantID string) string {
	if tenantID == "" {
		return "default"
	}
	return tenantID
}

// CreateCollection registers and opens a new collection.
func (s *Service) CreateCollection(ctx context.Context, req CreateCollectionRequest) (Status, error) {
	raw, _ := json.Marshal(req)
	if err := s.validator.validate(raw, createCollectionSchema); err != nil {
		return Status{}, newError("CreateCollection", InvalidInput, err)
	}

	met, err := parseMetric(req.Metric)
	if err != nil {
		return Status{}, newError("CreateCollection", InvalidInput, err)
	}
	quant, err := parseQuantization(req.Quantization)
	if err != nil {
		return Status{}, newError("CreateCollection", InvalidInput, err)
	}

	err = s.manager.Create(ctx, req.Name, tenantOrDefault(req.TenantID), req.Dimension, met, quant)
	if err != nil {
		if isAlreadyExists(err) {
			return Status{}, newError("CreateCollection", AlreadyExists, err)
		}
		return Status{}, newError("CreateCollection", Transient, err)
	}
	return Status{OK: true}, nil
}

// DeleteCollection drops a collection and its on-disk state.
func (s *Service) DeleteCollection(ctx context.Context, req DeleteCollectionRequest) (Status, error) {
	if req.Name == "" {
		return Status{}, newError("DeleteCollection", InvalidInput, fmt.Errorf("name is required"))
	}
	if err := s.manager.Drop(ctx, req.Name); err != nil {
		if isNotFound(err) {
			return Status{}, newError("DeleteCollection", NotFound, err)
		}
		return Status{}, newError("DeleteCollection", Transient, err)
	}
	return Status{OK: true}, nil
}

// ListCollections returns the names of the collections registered under
// tenantID; an empty tenantID means the "default" tenant.
func (s *Service) ListCollections(ctx context.Context, tenantID string) ([]string, error) {
	recs, err := s.manager.List(ctx, tenantOrDefault(tenantID))
	if err != nil {
		return nil, newError("ListCollections", Transient, err)
	}
	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.Name
	}
	return names, nil
}

// GetCollectionStats reports a collection's live state.
func (s *Service) GetCollectionStats(ctx context.Context, name string) (CollectionStats, error) {
	c, err := s.getCollection(ctx, name)
	if err != nil {
		return CollectionStats{}, err
	}
	return CollectionStats{
		Name:          name,
		Count:         c.Count(),
		Dimension:     c.Dimension(),
		Metric:        string(c.Metric()),
		IndexingQueue: c.QueueDepth(),
	}, nil
}

// Insert upserts one vector into a collection.
func (s *Service) Insert(ctx context.Context, req InsertRequest) (Status, error) {
	c, err := s.getCollection(ctx, req.Collection)
	if err != nil {
		return Status{}, err
	}
	if err := validateVectorInput(req.Vector, c.Dimension()); err != nil {
		return Status{}, newError("Insert", InvalidInput, err)
	}

	err = c.Insert(ctx, req.ID, metric.Vector(req.Vector), req.Metadata, req.TypedMetadata)
	if err != nil {
		return Status{}, toServiceError("Insert", err)
	}
	return Status{OK: true}, nil
}

// BatchInsert upserts a batch of vectors into a collection.
func (s *Service) BatchInsert(ctx context.Context, req BatchInsertRequest) (Status, error) {
	c, err := s.getCollection(ctx, req.Collection)
	if err != nil {
		return Status{}, err
	}

	for _, rec := range req.Records {
		if err := validateVectorInput(rec.Vector, c.Dimension()); err != nil {
			return Status{}, newError("BatchInsert", InvalidInput, err)
		}
	}

	for _, rec := range req.Records {
		if err := c.Insert(ctx, rec.ID, metric.Vector(rec.Vector), rec.Metadata, rec.TypedMetadata); err != nil {
			return Status{}, toServiceError("BatchInsert", err)
		}
	}
	return Status{OK: true}, nil
}

// Delete tombstones one id within a collection.
func (s *Service) Delete(ctx context.Context, req DeleteRequest) (Status, error) {
	c, err := s.getCollection(ctx, req.Collection)
	if err != nil {
		return Status{}, err
	}
	if err := c.Delete(ctx, req.ID); err != nil {
		return Status{}, toServiceError("Delete", err)
	}
	return Status{OK: true}, nil
}

// Search runs a k-nearest-neighbor query, optionally restricted by
// metadata filters and optionally fused with a lexical ranking via RRF.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	c, err := s.getCollection(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	if err := validateVectorInput(req.Vector, c.Dimension()); err != nil {
		return nil, newError("Search", InvalidInput, err)
	}
	if req.TopK <= 0 {
		return nil, newError("Search", InvalidInput, fmt.Errorf("top_k must be positive"))
	}

	filter := collection.Filter{}
	for _, eq := range req.Equals {
		filter.Equals = append(filter.Equals, collection.EqualsFilter{Key: eq.Key, Value: eq.Value})
	}
	for _, r := range req.Ranges {
		filter.Ranges = append(filter.Ranges, collection.RangeFilter{Key: r.Key, Min: r.Min, Max: r.Max})
	}

	results, err := c.Search(metric.Vector(req.Vector), req.TopK, req.EfSearch, filter)
	if err != nil {
		return nil, newError("Search", Transient, err)
	}

	hits := make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit{ID: r.ExternalID, Distance: r.Distance}
	}

	if len(req.HybridQuery) > 0 {
		hits = fuseWithLexical(hits, req.HybridQuery, req.HybridAlpha)
	}
	return hits, nil
}

// SearchBatch runs several independent searches, each against its own
// named collection.
func (s *Service) SearchBatch(ctx context.Context, reqs []SearchRequest) ([][]SearchHit, error) {
	out := make([][]SearchHit, len(reqs))
	for i, req := range reqs {
		hits, err := s.Search(ctx, req)
		if err != nil {
			return nil, err
		}
		out[i] = hits
	}
	return out, nil
}

// GetDigest returns a collection's current replication digest.
func (s *Service) GetDigest(ctx context.Context, name string) (DigestResponse, error) {
	c, err := s.getCollection(ctx, name)
	if err != nil {
		return DigestResponse{}, err
	}
	d := c.Digest()
	return DigestResponse{LogicalClock: d.LogicalClock, StateHash: d.StateHash, Buckets: d.Buckets, Count: d.Count}, nil
}

// Replicate streams every mutation record with a logical clock past
// lastClock, standing in for the gRPC server-streaming RPC a deployed
// transport would expose over this same channel.
func (s *Service) Replicate(ctx context.Context, name string, lastClock uint64) (<-chan ReplicationRecord, <-chan error) {
	out := make(chan ReplicationRecord)
	errc := make(chan error, 1)

	c, err := s.getCollection(ctx, name)
	if err != nil {
		errc <- err
		close(errc)
		close(out)
		return out, errc
	}

	recs, inErr := replication.Replicate(ctx, c, lastClock)
	go func() {
		defer close(out)
		defer close(errc)
		for rec := range recs {
			select {
			case out <- ReplicationRecord{LogicalClock: rec.LogicalClock, Kind: uint8(rec.Kind), Payload: rec.Payload}:
			case <-ctx.Done():
				return
			}
		}
		if err, ok := <-inErr; ok && err != nil {
			errc <- err
		}
	}()
	return out, errc
}

// ReplicationRecord is the wire shape of one streamed mutation.
type ReplicationRecord struct {
	LogicalClock uint64
	Kind         uint8
	Payload      []byte
}

// Configure adjusts a collection's live search/construction parameters.
func (s *Service) Configure(ctx context.Context, req ConfigureRequest) (Status, error) {
	raw, _ := json.Marshal(req)
	if err := s.validator.validate(raw, configureSchema); err != nil {
		return Status{}, newError("Configure", InvalidInput, err)
	}
	c, err := s.getCollection(ctx, req.Collection)
	if err != nil {
		return Status{}, err
	}
	c.Configure(req.EfConstruction, req.EfSearch)
	return Status{OK: true}, nil
}

// TriggerSnapshot forces an out-of-band snapshot flush.
func (s *Service) TriggerSnapshot(ctx context.Context, name string) (Status, error) {
	c, err := s.getCollection(ctx, name)
	if err != nil {
		return Status{}, err
	}
	if err := c.Flush(); err != nil {
		return Status{}, newError("TriggerSnapshot", Transient, err)
	}
	return Status{OK: true}, nil
}

// TriggerVacuum is a placeholder for compaction of tombstoned segment
// records. segstore does not reclaim space (deleted records are skipped,
// never physically removed), so this is a no-op that only validates that
// the collection exists.
func (s *Service) TriggerVacuum(ctx context.Context, name string) (Status, error) {
	if _, err := s.getCollection(ctx, name); err != nil {
		return Status{}, err
	}
	return Status{OK: true, Message: "vacuum not yet implemented; tombstones are skipped, not reclaimed"}, nil
}

// RebuildIndex is a placeholder acknowledging the request; a full rebuild
// would require iterating every live record through a fresh hnsw.Graph,
// which is mechanically a bulk replay and is left for a maintenance tool
// rather than an inline RPC given its cost on a large collection.
func (s *Service) RebuildIndex(ctx context.Context, req RebuildIndexRequest) (Status, error) {
	if _, err := s.getCollection(ctx, req.Name); err != nil {
		return Status{}, err
	}
	return Status{OK: true, Message: "rebuild not yet implemented"}, nil
}

func (s *Service) getCollection(ctx context.Context, name string) (*collection.Collection, error) {
	if name == "" {
		return nil, newError("getCollection", InvalidInput, fmt.Errorf("collection name is required"))
	}
	c, err := s.manager.Get(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, newError("getCollection", NotFound, err)
		}
		return nil, newError("getCollection", Transient, err)
	}
	return c, nil
}

func validateVectorInput(v []float32, dimension int) error {
	if len(v) != dimension {
		return fmt.Errorf("vector has dimension %d, collection expects %d", len(v), dimension)
	}
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("vector contains a non-finite component")
		}
	}
	return nil
}
