package memory

import (
	"encoding/binary"
	"math"
)

// encodeEmbedding serializes a vector as a little-endian uint32 length
// prefix followed by the raw float32 bits of each element. Decoding an
// encoded vector reproduces it bit for bit.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding is the inverse of encodeEmbedding. Malformed blobs
// (truncated, or length prefix disagreeing with the payload) decode to
// nil so a corrupt row degrades to "no embedding" instead of an error.
func decodeEmbedding(blob []byte) []float32 {
	if len(blob) < 4 {
		return nil
	}
	n := int(binary.LittleEndian.Uint32(blob[:4]))
	if n <= 0 || len(blob) != 4+4*n {
		return nil
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4+4*i:]))
	}
	return vec
}
