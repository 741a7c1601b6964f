// Package swapper computes identity embeddings and runs the generative swap
// model.
package swapper

import (
	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/geometry"
	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/inference"
)

// ArcFaceSize is the embedder's aligned crop size.
const ArcFaceSize = 112

// Identity is the embedding of one face in both spaces.
type Identity struct {
	Raw    Embedding // embedder output, normalized
	Latent Embedding // after the EMAP transform, normalized
}

// Extractor extracts face embeddings using ArcFace
type Extractor struct {
	model *inference.Model
	emap  *Emap
	ops   imageops.Ops
}

// NewExtractor pairs the embedder with the swap model's EMAP. A nil ops uses
// imageops.Reference.
func NewExtractor(model *inference.Model, emap *Emap, ops imageops.Ops) *Extractor {
	if ops == nil {
		ops = imageops.Reference{}
	}
	return &Extractor{model: model, emap: emap, ops: ops}
}

// Extract aligns the face described by landmarks, embeds it and maps the
// embedding into the swap model's latent space. The embedder expects the
// opposite channel order to the rest of the pipeline and [-1,1] values.
func (e *Extractor) Extract(img *imageops.Image, landmarks [5]geometry.Point) (*Identity, error) {
	if e == nil || e.model == nil || e.emap == nil {
		return nil, faceerr.Errorf(faceerr.KindInference, "embed", "embedder not loaded")
	}
	if err := img.Validate(); err != nil {
		return nil, faceerr.New(faceerr.KindDetection, "embed", err)
	}
	m, err := geometry.AlignTo(landmarks, ArcFaceSize)
	if err != nil {
		return nil, err
	}
	aligned, err := geometry.AlignedCrop(e.ops, img.RGB(), m, ArcFaceSize, geometry.CropOptions{Normalize: true, SwapRB: true})
	if err != nil {
		return nil, err
	}

	input := inference.Tensor{Shape: []int64{1, 3, ArcFaceSize, ArcFaceSize}, Data: aligned.CHW()}
	outputs, err := e.model.RunImage(input)
	if err != nil {
		return nil, err
	}

	raw, err := Normalize(outputs[0].Data)
	if err != nil {
		return nil, err
	}
	latent, err := e.emap.Transform(raw)
	if err != nil {
		return nil, faceerr.Classify(faceerr.KindInference, "emap", err)
	}
	return &Identity{Raw: raw, Latent: latent}, nil
}
