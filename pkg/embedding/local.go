package embedding

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
	"unicode"
)

const localName = "local-tf-1536"

// Local is a deterministic, offline term-frequency embedder.
//
// Tokens are lower-cased alphanumeric runs. Each output dimension is the
// frequency-weighted sum of a per-token hash salted with the dimension
// index, L2-normalized at the end. Pure and side-effect free.
type Local struct {
	dims int
}

func NewLocal() *Local {
	return &Local{dims: DefaultDimensions}
}

// NewLocalWithDimensions is used by tests that want small vectors.
func NewLocalWithDimensions(dims int) *Local {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Local{dims: dims}
}

func (l *Local) Name() string    { return localName }
func (l *Local) Dimensions() int { return l.dims }

func (l *Local) Embed(_ context.Context, text string) []float32 {
	vec := make([]float32, l.dims)

	freq := map[string]float32{}
	for _, tok := range Tokenize(text) {
		freq[tok]++
	}
	if len(freq) == 0 {
		return vec
	}

	for tok, f := range freq {
		for i := 0; i < l.dims; i++ {
			vec[i] += hashToUnit(tok+strconv.Itoa(i)) * f
		}
	}

	normalize(vec)
	return vec
}

// Tokenize splits text on non-alphanumeric runes and lower-cases the
// result. Shared with the store's tag matching so both sides agree on
// token boundaries.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// hashToUnit maps s to a stable value in [-1, 1).
func hashToUnit(s string) float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	sum := uint32(h.Sum64())
	return float32(sum)/float32(1<<31) - 1
}
