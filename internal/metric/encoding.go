package metric

import (
	"encoding/binary"
	"math"
)

func putFloat32(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}

func getFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putUint64(b []byte, v uint64) {
	binary.LittleEndian.PutUint64(b, v)
}

func getUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
