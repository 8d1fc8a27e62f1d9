// Package embedding turns text spans into fixed-length float vectors.
//
// Two providers exist: a deterministic offline one and a remote API
// client that degrades to the offline one on failure. Which provider a
// deployment uses is configuration, not a compile-time choice.
package embedding

import (
	"context"
	"math"
)

// DefaultDimensions matches the common remote embedding model width so
// local and remote vectors are interchangeable at rest.
const DefaultDimensions = 1536

// Provider produces a fixed-length vector for a text span.
//
// Embed never fails: implementations that can fail must recover
// internally (see Remote, which falls back to Local). Identical input
// yields identical output.
type Provider interface {
	Name() string
	Dimensions() int
	Embed(ctx context.Context, text string) []float32
}

// Cosine returns the cosine similarity of a and b.
//
// Vectors of mismatched length are compared over their shared prefix.
// If either vector is empty or has zero magnitude the result is 0,
// never NaN.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	mag := math.Sqrt(sum)
	if mag == 0 {
		return
	}
	inv := float32(1.0 / mag)
	for i := range vec {
		vec[i] *= inv
	}
}
