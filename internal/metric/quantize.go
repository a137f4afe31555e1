package metric

import (
	"fmt"
	"math/bits"

	"gonum.org/v1/gonum/floats"
)

// Quantization identifies a collection's on-disk vector payload encoding.
type Quantization string

const (
	None     Quantization = "none"
	ScalarI8 Quantization = "scalar"
	Binary   Quantization = "binary"
)

// Codec encodes/decodes vectors to/from the payload bytes segstore
// persists. It has no distance method; HammingDistance is the only
// function that works directly on an encoded (Binary) payload.
type Codec interface {
	Quantization() Quantization
	Encode(v Vector) ([]byte, error)
	Decode(payload []byte, dim int) (Vector, error)
}

// NewCodec constructs the codec for a quantization scheme. Binary
// quantization is refused for the Poincaré metric: Hamming distance is
// not an established order-preserving proxy for hyperbolic distance
// (spec §9 Open Question — this spec freezes the refusal as canonical).
func NewCodec(q Quantization, m Metric) (Codec, error) {
	switch q {
	case None, "":
		return noneCodec{}, nil
	case ScalarI8:
		return scalarI8Codec{}, nil
	case Binary:
		if m == Poincare {
			return nil, fmt.Errorf("metric: binary quantization is not supported for the Poincaré metric")
		}
		return binaryCodec{}, nil
	default:
		return nil, fmt.Errorf("metric: unknown quantization %q", q)
	}
}

// noneCodec stores raw float32 vectors.
type noneCodec struct{}

func (noneCodec) Quantization() Quantization { return None }

func (noneCodec) Encode(v Vector) ([]byte, error) {
	out := make([]byte, len(v)*4)
	for i, c := range v {
		putFloat32(out[i*4:], c)
	}
	return out, nil
}

func (noneCodec) Decode(payload []byte, dim int) (Vector, error) {
	if len(payload) != dim*4 {
		return nil, fmt.Errorf("metric: none-codec payload size %d does not match dimension %d", len(payload), dim)
	}
	v := make(Vector, dim)
	for i := range v {
		v[i] = getFloat32(payload[i*4:])
	}
	return v, nil
}

// scalarI8Codec implements the per-vector affine [-1,1] -> [-127,127]
// mapping from spec §4.1. The per-vector scale is stored as a trailing
// float32 so Decode can reconstruct an approximation. No distance is
// computed on the int8 bytes themselves; HNSW traversal works on the
// float32 vectors held in its own nodes.
type scalarI8Codec struct{}

func (scalarI8Codec) Quantization() Quantization { return ScalarI8 }

func (scalarI8Codec) Encode(v Vector) ([]byte, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("metric: cannot quantize an empty vector")
	}
	f64 := make([]float64, len(v))
	for i, c := range v {
		f64[i] = float64(c)
	}
	maxAbs := floats.Max(f64)
	if minV := floats.Min(f64); -minV > maxAbs {
		maxAbs = -minV
	}
	scale := float32(1.0)
	if maxAbs > 1.0 {
		scale = float32(maxAbs)
	}

	out := make([]byte, len(v)+4)
	for i, c := range v {
		normalized := c / scale
		if normalized > 1 {
			normalized = 1
		} else if normalized < -1 {
			normalized = -1
		}
		out[i] = byte(int8(normalized * 127))
	}
	putFloat32(out[len(v):], scale)
	return out, nil
}

func (scalarI8Codec) Decode(payload []byte, dim int) (Vector, error) {
	if len(payload) != dim+4 {
		return nil, fmt.Errorf("metric: scalar-codec payload size %d does not match dimension %d", len(payload), dim)
	}
	scale := getFloat32(payload[dim:])
	v := make(Vector, dim)
	for i := 0; i < dim; i++ {
		v[i] = float32(int8(payload[i])) / 127 * scale
	}
	return v, nil
}

// binaryCodec packs one sign bit per dimension, LSB-first within each
// uint64 word, matching spec §4.1's Hamming-distance proxy.
type binaryCodec struct{}

func (binaryCodec) Quantization() Quantization { return Binary }

func (binaryCodec) Encode(v Vector) ([]byte, error) {
	words := (len(v) + 63) / 64
	packed := make([]uint64, words)
	for i, c := range v {
		if c >= 0 {
			packed[i/64] |= 1 << uint(i%64)
		}
	}
	out := make([]byte, words*8)
	for i, w := range packed {
		putUint64(out[i*8:], w)
	}
	return out, nil
}

func (binaryCodec) Decode(payload []byte, dim int) (Vector, error) {
	words := (dim + 63) / 64
	if len(payload) != words*8 {
		return nil, fmt.Errorf("metric: binary-codec payload size %d does not match dimension %d", len(payload), dim)
	}
	v := make(Vector, dim)
	for i := 0; i < dim; i++ {
		w := getUint64(payload[(i/64)*8:])
		if w&(1<<uint(i%64)) != 0 {
			v[i] = 1
		} else {
			v[i] = -1
		}
	}
	return v, nil
}

// HammingDistance computes the popcount distance between two binary
// payloads of equal length, used as a Euclidean proxy under Binary
// quantization (spec §4.1).
func HammingDistance(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	dist := 0
	for i := 0; i+8 <= n; i += 8 {
		dist += bits.OnesCount64(getUint64(a[i:]) ^ getUint64(b[i:]))
	}
	return dist
}
