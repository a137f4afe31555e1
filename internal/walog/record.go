// Package walog implements the per-collection write-ahead log: a
// length-delimited, CRC-protected, segmented record of mutations that
// must be durable before a write is acknowledged (spec §4.3).
package walog

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// OperationKind identifies the mutation a WAL record encodes.
type OperationKind uint8

const (
	OpInsert OperationKind = iota + 1
	OpDelete
	OpCreateCollection
	OpDropCollection
)

// Record is one WAL entry: (logical_clock, origin_node_id, operation_kind,
// payload, crc32) per spec §3. The CRC itself is computed and verified by
// the frame codec in frame.go, not stored inside Record.
type Record struct {
	LogicalClock uint64
	OriginNodeID uuid.UUID
	Kind         OperationKind
	Payload      []byte
}

// InsertPayload is the Insert mutation's fields, per spec §4.3.
type InsertPayload struct {
	ExternalID    uint32
	Vector        []float32
	Metadata      map[string]string
	TypedMetadata map[string]float64
}

// DeletePayload is the Delete mutation's fields.
type DeletePayload struct {
	ExternalID uint32
}

// CreateCollectionPayload is the CreateCollection mutation's fields.
type CreateCollectionPayload struct {
	Name         string
	Dimension    uint32
	Metric       string
	Quantization string
}

// DropCollectionPayload is the DropCollection mutation's fields.
type DropCollectionPayload struct {
	Name string
}

// EncodeInsert serializes an InsertPayload with a small fixed binary
// layout (length-prefixed strings/maps) instead of encoding/gob, so
// replay never depends on a type registry surviving across versions.
func EncodeInsert(p InsertPayload) []byte {
	buf := newEncoder()
	buf.putUint32(p.ExternalID)
	buf.putUint32(uint32(len(p.Vector)))
	for _, f := range p.Vector {
		buf.putFloat32(f)
	}
	buf.putUint32(uint32(len(p.Metadata)))
	for k, v := range p.Metadata {
		buf.putString(k)
		buf.putString(v)
	}
	buf.putUint32(uint32(len(p.TypedMetadata)))
	for k, v := range p.TypedMetadata {
		buf.putString(k)
		buf.putFloat64(v)
	}
	return buf.bytes()
}

func DecodeInsert(b []byte) (InsertPayload, error) {
	d := newDecoder(b)
	var p InsertPayload
	p.ExternalID = d.uint32()
	n := d.uint32()
	p.Vector = make([]float32, n)
	for i := range p.Vector {
		p.Vector[i] = d.float32()
	}
	metaN := d.uint32()
	if metaN > 0 {
		p.Metadata = make(map[string]string, metaN)
		for i := uint32(0); i < metaN; i++ {
			k := d.string()
			v := d.string()
			p.Metadata[k] = v
		}
	}
	typedN := d.uint32()
	if typedN > 0 {
		p.TypedMetadata = make(map[string]float64, typedN)
		for i := uint32(0); i < typedN; i++ {
			k := d.string()
			v := d.float64()
			p.TypedMetadata[k] = v
		}
	}
	if d.err != nil {
		return InsertPayload{}, fmt.Errorf("walog: decode insert payload: %w", d.err)
	}
	return p, nil
}

func EncodeDelete(p DeletePayload) []byte {
	buf := newEncoder()
	buf.putUint32(p.ExternalID)
	return buf.bytes()
}

func DecodeDelete(b []byte) (DeletePayload, error) {
	d := newDecoder(b)
	p := DeletePayload{ExternalID: d.uint32()}
	if d.err != nil {
		return DeletePayload{}, fmt.Errorf("walog: decode delete payload: %w", d.err)
	}
	return p, nil
}

func EncodeCreateCollection(p CreateCollectionPayload) []byte {
	buf := newEncoder()
	buf.putString(p.Name)
	buf.putUint32(p.Dimension)
	buf.putString(p.Metric)
	buf.putString(p.Quantization)
	return buf.bytes()
}

func DecodeCreateCollection(b []byte) (CreateCollectionPayload, error) {
	d := newDecoder(b)
	p := CreateCollectionPayload{
		Name:      d.string(),
		Dimension: d.uint32(),
	}
	p.Metric = d.string()
	p.Quantization = d.string()
	if d.err != nil {
		return CreateCollectionPayload{}, fmt.Errorf("walog: decode create-collection payload: %w", d.err)
	}
	return p, nil
}

func EncodeDropCollection(p DropCollectionPayload) []byte {
	buf := newEncoder()
	buf.putString(p.Name)
	return buf.bytes()
}

func DecodeDropCollection(b []byte) (DropCollectionPayload, error) {
	d := newDecoder(b)
	p := DropCollectionPayload{Name: d.string()}
	if d.err != nil {
		return DropCollectionPayload{}, fmt.Errorf("walog: decode drop-collection payload: %w", d.err)
	}
	return p, nil
}

// --- small binary encoder/decoder helpers ---

type encoder struct {
	b []byte
}

func newEncoder() *encoder { return &encoder{} }

func (e *encoder) bytes() []byte { return e.b }

func (e *encoder) putUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *encoder) putFloat32(v float32) {
	e.putUint32(math.Float32bits(v))
}

func (e *encoder) putFloat64(v float64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	e.b = append(e.b, tmp[:]...)
}

func (e *encoder) putString(s string) {
	e.putUint32(uint32(len(s)))
	e.b = append(e.b, s...)
}

type decoder struct {
	b   []byte
	off int
	err error
}

func newDecoder(b []byte) *decoder { return &decoder{b: b} }

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.off+n > len(d.b) {
		d.err = fmt.Errorf("walog: truncated payload")
		return false
	}
	return true
}

func (d *decoder) uint32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(d.b[d.off:])
	d.off += 4
	return v
}

func (d *decoder) float32() float32 {
	return math.Float32frombits(d.uint32())
}

func (d *decoder) float64() float64 {
	if !d.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(d.b[d.off:])
	d.off += 8
	return math.Float64frombits(v)
}

func (d *decoder) string() string {
	n := d.uint32()
	if !d.need(int(n)) {
		return ""
	}
	s := string(d.b[d.off : d.off+int(n)])
	d.off += int(n)
	return s
}
