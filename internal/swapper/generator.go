package swapper

import (
	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/geometry"
	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/inference"
)

// SwapSize is the generator's aligned canvas.
const SwapSize = 128

// SwapResult holds one synthesized face in aligned space together with the
// original aligned target and the transform that produced it.
type SwapResult struct {
	Swapped   *imageops.Image // generator output, RGB [0,1]
	Aligned   *imageops.Image // target crop through Transform, RGB [0,1]
	Transform geometry.Affine // target image -> aligned canvas
}

// Generator runs the inswapper-style swap model.
type Generator struct {
	model *inference.Model
	ops   imageops.Ops
}

// NewGenerator wraps a loaded swap model. A nil ops uses imageops.Reference.
func NewGenerator(model *inference.Model, ops imageops.Ops) *Generator {
	if ops == nil {
		ops = imageops.Reference{}
	}
	return &Generator{model: model, ops: ops}
}

// Swap aligns the target face to the 128 canvas and synthesizes it with the
// identity carried by latent.
func (g *Generator) Swap(target *imageops.Image, landmarks [5]geometry.Point, latent Embedding) (*SwapResult, error) {
	if g == nil || g.model == nil {
		return nil, faceerr.Errorf(faceerr.KindInference, "swap", "swapper not loaded")
	}
	if err := target.Validate(); err != nil {
		return nil, faceerr.New(faceerr.KindDetection, "swap", err)
	}
	m, err := geometry.AlignTo(landmarks, SwapSize)
	if err != nil {
		return nil, err
	}
	aligned, err := geometry.AlignedCrop(g.ops, target.RGB(), m, SwapSize, geometry.CropOptions{})
	if err != nil {
		return nil, err
	}

	outputs, err := g.model.RunRoles(map[inference.Role]inference.Tensor{
		inference.RoleImage:     {Shape: []int64{1, 3, SwapSize, SwapSize}, Data: aligned.CHW()},
		inference.RoleEmbedding: {Shape: []int64{1, EmbeddingDim}, Data: latent[:]},
	})
	if err != nil {
		return nil, err
	}

	out := outputs[0]
	if len(out.Data) != 3*SwapSize*SwapSize {
		return nil, faceerr.Errorf(faceerr.KindInference, "swap",
			"output shape %v, want [1 3 %d %d]", out.Shape, SwapSize, SwapSize)
	}
	swapped, err := imageops.FromCHW(out.Data, SwapSize, SwapSize, 3)
	if err != nil {
		return nil, faceerr.New(faceerr.KindInference, "swap", err)
	}
	swapped.Clamp01()
	return &SwapResult{Swapped: swapped, Aligned: aligned, Transform: m}, nil
}
