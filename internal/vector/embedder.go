package vector

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// HashEmbedder is a deterministic, dependency-free stand-in for a real
// embedding model call. It maps text to a unit vector by hashing
// overlapping shingles into dimension buckets, giving texts that share
// substrings a nonzero cosine similarity without requiring a model
// runtime or network call. Production deployments are expected to supply
// an Embedder backed by whatever inference service the agent fleet
// already has access to; no such network client exists in this codebase's
// dependency set, so the local fallback embedder is the only stdlib-only
// component in this package.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder constructs a HashEmbedder producing vectors of the
// given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashEmbedder{dimension: dimension}
}

func (h *HashEmbedder) Dimension() int { return h.dimension }

// Embed hashes shingles of text into buckets, producing a deterministic,
// L2-normalized vector. kind is mixed into the hash so identical text
// embedded under a different content kind lands differently.
func (h *HashEmbedder) Embed(_ context.Context, text string, kind string) ([]float32, error) {
	vec := make([]float64, h.dimension)

	shingles := shingle(kind+"\x00"+text, 3)
	for _, s := range shingles {
		sum := sha256.Sum256([]byte(s))
		bucket := binary.BigEndian.Uint64(sum[0:8]) % uint64(h.dimension)
		sign := 1.0
		if sum[8]&1 == 1 {
			sign = -1.0
		}
		vec[bucket] += sign
	}

	var sumSquares float64
	for _, v := range vec {
		sumSquares += v * v
	}
	if sumSquares == 0 {
		out := make([]float32, h.dimension)
		return out, nil
	}

	out := make([]float32, h.dimension)
	scale := 1.0 / math.Sqrt(sumSquares)
	for i, v := range vec {
		out[i] = float32(v * scale)
	}
	return out, nil
}

func shingle(s string, n int) []string {
	if len(s) < n {
		return []string{s}
	}
	out := make([]string, 0, len(s)-n+1)
	for i := 0; i+n <= len(s); i++ {
		out = append(out, s[i:i+n])
	}
	return out
}
