package scoring

import (
	"fmt"
	"math"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
)

// CosineSimilarity calculates the cosine similarity between two vectors,
// in [-1, 1].
//
// Vectors of different lengths are an input contract violation and return
// core.ErrDimensionMismatch; dimensions are never coerced. A zero vector
// has no direction, so its similarity to anything is 0, not NaN.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", core.ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// RemapSimilarity maps a raw cosine similarity from [-1, 1] to [0, 1].
func RemapSimilarity(sim float64) float64 {
	return core.Clamp01((sim + 1) / 2)
}

// Centroid returns the element-wise mean of the given vectors, skipping nil
// entries. Returns nil when no vector is present. Mixed dimensionality is a
// contract violation.
func Centroid(vectors [][]float64) ([]float64, error) {
	var sum []float64
	n := 0
	for _, v := range vectors {
		if len(v) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(v))
		}
		if len(v) != len(sum) {
			return nil, fmt.Errorf("%w: %d vs %d", core.ErrDimensionMismatch, len(v), len(sum))
		}
		for i, x := range v {
			sum[i] += x
		}
		n++
	}
	if n == 0 {
		return nil, nil
	}
	for i := range sum {
		sum[i] /= float64(n)
	}
	return sum, nil
}
