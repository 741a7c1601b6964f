package swapper

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/dudu/faceswap/internal/faceerr"
)

// EmbeddingDim is the length of identity embeddings.
const EmbeddingDim = 512

// Embedding represents a 512-dimensional face embedding. Every Embedding
// produced by this package has unit L2 norm.
type Embedding [EmbeddingDim]float32

// Normalize L2-normalizes the first EmbeddingDim values of data.
func Normalize(data []float32) (Embedding, error) {
	var e Embedding
	if len(data) < EmbeddingDim {
		return e, faceerr.Errorf(faceerr.KindInference, "normalize",
			"embedding has %d values, want %d", len(data), EmbeddingDim)
	}
	v := make([]float64, EmbeddingDim)
	for i := range v {
		v[i] = float64(data[i])
	}
	norm := floats.Norm(v, 2)
	if norm < 1e-10 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return e, faceerr.Errorf(faceerr.KindInference, "normalize", "degenerate embedding (norm=%g)", norm)
	}
	floats.Scale(1/norm, v)
	for i := range e {
		e[i] = float32(v[i])
	}
	return e, nil
}

// Norm returns the L2 norm.
func (e Embedding) Norm() float64 {
	var sum float64
	for _, v := range e {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity computes cosine similarity between two embeddings.
// Embeddings are unit length, so this is their dot product.
func CosineSimilarity(a, b Embedding) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
