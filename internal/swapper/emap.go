package swapper

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Emap is the 512x512 matrix mapping embedder output into the swap model's
// latent space: latent[i] = sum_j emb[j] * emap[j][i].
type Emap struct {
	m *mat.Dense
}

// EmapBytes is the size of a serialized matrix.
const EmapBytes = EmbeddingDim * EmbeddingDim * 4

// LoadEmap parses a row-major little-endian float32 matrix.
func LoadEmap(data []byte) (*Emap, error) {
	if len(data) != EmapBytes {
		return nil, fmt.Errorf("emap size mismatch: expected %d bytes, got %d", EmapBytes, len(data))
	}
	vals := make([]float64, EmbeddingDim*EmbeddingDim)
	for i := range vals {
		vals[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
	}
	return &Emap{m: mat.NewDense(EmbeddingDim, EmbeddingDim, vals)}, nil
}

// NewEmap builds an Emap from row-major values.
func NewEmap(vals []float32) (*Emap, error) {
	if len(vals) != EmbeddingDim*EmbeddingDim {
		return nil, fmt.Errorf("emap needs %d values, got %d", EmbeddingDim*EmbeddingDim, len(vals))
	}
	data := make([]float64, len(vals))
	for i, v := range vals {
		data[i] = float64(v)
	}
	return &Emap{m: mat.NewDense(EmbeddingDim, EmbeddingDim, data)}, nil
}

// Transform projects emb through the matrix and re-normalizes:
//
//	latent = emb @ emap
//	latent = latent / norm(latent)
func (e *Emap) Transform(emb Embedding) (Embedding, error) {
	in := make([]float64, EmbeddingDim)
	for i, v := range emb {
		in[i] = float64(v)
	}
	var out mat.VecDense
	out.MulVec(e.m.T(), mat.NewVecDense(EmbeddingDim, in))

	raw := out.RawVector().Data
	latent := make([]float32, len(raw))
	for i, v := range raw {
		latent[i] = float32(v)
	}
	return Normalize(latent)
}
