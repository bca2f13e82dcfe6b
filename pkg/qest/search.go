package qest

import (
	"math"
	"sort"
)

// CosineSimilarity computes the cosine similarity between two vectors
// Returns a value between -1 and 1, where 1 means identical direction
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// DotProduct returns the inner product of a and b, or 0 if lengths differ.
func DotProduct(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// EuclideanDistance returns the L2 distance between a and b.
func EuclideanDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return float32(math.Inf(1))
	}
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// Similarity scores b against the query a under the given metric. Higher is
// always better: Euclidean distance is negated.
func Similarity(d Distance, a, b []float32) float32 {
	switch d {
	case Dot:
		return DotProduct(a, b)
	case Euclidean:
		return -EuclideanDistance(a, b)
	default:
		return CosineSimilarity(a, b)
	}
}

// Rank sorts hits by score descending and keeps at most limit of them.
// A limit <= 0 keeps everything. Equal scores keep their input order.
func Rank(hits []SearchHit, limit int) []SearchHit {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if limit > 0 && limit < len(hits) {
		hits = hits[:limit]
	}

	return hits
}
