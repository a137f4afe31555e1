package rpcsurface

import "github.com/google/uuid"

// CreateCollectionRequest mirrors the spec §6 CreateCollection wire
// contract field-for-field.
type CreateCollectionRequest struct {
	Name         string `json:"name"`
	Dimension    int    `json:"dimension"`
	Metric       string `json:"metric"`
	Quantization string `json:"quantization,omitempty"`
	TenantID     string `json:"tenant_id"`
}

// DeleteCollectionRequest names the collection to drop.
type DeleteCollectionRequest struct {
	Name string `json:"name"`
}

// CollectionStats is the GetCollectionStats response.
type CollectionStats struct {
	Name           string `json:"name"`
	Count          int    `json:"count"`
	Dimension      int    `json:"dimension"`
	Metric         string `json:"metric"`
	IndexingQueue  int    `json:"indexing_queue"`
}

// InsertRequest mirrors spec §6 Insert.
type InsertRequest struct {
	Collection    string             `json:"collection"`
	ID            uint32             `json:"id"`
	Vector        []float32          `json:"vector"`
	Metadata      map[string]string  `json:"metadata"`
	TypedMetadata map[string]float64 `json:"typed_metadata"`
	Durability    string             `json:"durability"`
	LogicalClock  *uint64            `json:"logical_clock,omitempty"`
	OriginNodeID  *uuid.UUID         `json:"origin_node_id,omitempty"`
}

// BatchInsertRequest mirrors spec §6 BatchInsert.
type BatchInsertRequest struct {
	Collection string          `json:"collection"`
	Records    []InsertRequest `json:"vector_data"`
	Durability string          `json:"durability"`
}

// DeleteRequest mirrors spec §6 Delete.
type DeleteRequest struct {
	Collection string `json:"collection"`
	ID         uint32 `json:"id"`
}

// EqualsFilterRequest and RangeFilterRequest are the wire shape of a
// metadata filter clause.
type EqualsFilterRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type RangeFilterRequest struct {
	Key string  `json:"key"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// SearchRequest mirrors spec §6 Search, including the optional hybrid
// lexical-fusion fields.
type SearchRequest struct {
	Collection   string                `json:"collection"`
	Vector       []float32             `json:"vector"`
	TopK         int                   `json:"top_k"`
	Equals       []EqualsFilterRequest `json:"filters"`
	Ranges       []RangeFilterRequest  `json:"filter"`
	EfSearch     int                   `json:"ef_search"`
	HybridQuery  []uint32              `json:"hybrid_query,omitempty"`
	HybridAlpha  float64               `json:"hybrid_alpha,omitempty"`
}

// SearchHit is one scored result.
type SearchHit struct {
	ID            uint32             `json:"id"`
	Distance      float64            `json:"distance"`
	Metadata      map[string]string  `json:"metadata,omitempty"`
	TypedMetadata map[string]float64 `json:"typed_metadata,omitempty"`
}

// DigestResponse mirrors spec §6 GetDigest.
type DigestResponse struct {
	LogicalClock uint64    `json:"logical_clock"`
	StateHash    uint64    `json:"state_hash"`
	Buckets      [256]uint64 `json:"buckets"`
	Count        uint64    `json:"count"`
}

// ConfigureRequest mirrors spec §6 Configure.
type ConfigureRequest struct {
	Collection     string `json:"collection"`
	EfSearch       int    `json:"ef_search,omitempty"`
	EfConstruction int    `json:"ef_construction,omitempty"`
}

// RebuildIndexRequest mirrors spec §6 RebuildIndex.
type RebuildIndexRequest struct {
	Name        string `json:"name"`
	FilterQuery string `json:"filter_query"`
}

// Status is the uniform {status} response spec §6 returns from
// fire-and-forget operations.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}
