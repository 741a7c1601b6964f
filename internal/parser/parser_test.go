package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/geometry"
	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/inference/inferencetest"
)

// segmenter returns logits labelling the square [lo,hi) of the 512 grid as
// label and everything else as hair.
func segmenter(lo, hi int, label uint8) *inferencetest.Session {
	return inferencetest.NewSession("parser", func([]inference.Tensor) ([]inference.Tensor, error) {
		plane := InputSize * InputSize
		logits := make([]float32, 19*plane)
		for y := 0; y < InputSize; y++ {
			for x := 0; x < InputSize; x++ {
				l := uint8(LabelHair)
				if x >= lo && x < hi && y >= lo && y < hi {
					l = label
				}
				logits[int(l)*plane+y*InputSize+x] = 5
			}
		}
		return []inference.Tensor{{Shape: []int64{1, 19, InputSize, InputSize}, Data: logits}}, nil
	})
}

func aligned() (*imageops.Image, [5]geometry.Point) {
	var lm [5]geometry.Point
	copy(lm[:], geometry.Template(128))
	return imageops.NewImage(128, 128, 3), lm
}

func TestParseKeepsFaceLabels(t *testing.T) {
	p := New(inferencetest.Model(segmenter(128, 384, LabelNose), inference.ImageOnly), nil)
	img, _ := aligned()
	mask, err := p.Parse(img)
	require.NoError(t, err)
	assert.Equal(t, 128, mask.Width)
	assert.Equal(t, float32(1), mask.At(64, 64))
	assert.Equal(t, float32(0), mask.At(5, 5))
	assert.Equal(t, 64*64, mask.Count(0.5))
}

func TestParseDropsExcludedLabels(t *testing.T) {
	for _, l := range []uint8{LabelBackground, LabelLeftEar, LabelHair, LabelGlasses, LabelNeck} {
		p := New(inferencetest.Model(segmenter(0, InputSize, l), inference.ImageOnly), nil)
		img, _ := aligned()
		mask, err := p.Parse(img)
		require.NoError(t, err)
		assert.Zero(t, mask.Count(0.5), "label %d", l)
	}
}

func TestParseInputNormalization(t *testing.T) {
	sess := segmenter(0, 1, LabelSkin)
	p := New(inferencetest.Model(sess, inference.ImageOnly), nil)
	img := imageops.NewImage(32, 32, 3)
	for i := range img.Pix {
		img.Pix[i] = 0.485
	}
	_, err := p.Parse(img)
	require.NoError(t, err)
	in := sess.LastInputs()[0]
	assert.Equal(t, []int64{1, 3, InputSize, InputSize}, in.Shape)
	assert.InDelta(t, 0, in.Data[0], 1e-5)
	assert.InDelta(t, (0.485-0.406)/0.225, in.Data[2*InputSize*InputSize], 1e-5)
}

func TestParseBadOutput(t *testing.T) {
	sess := inferencetest.NewSession("parser", func([]inference.Tensor) ([]inference.Tensor, error) {
		return []inference.Tensor{{Shape: []int64{1, 7}, Data: make([]float32, 7)}}, nil
	})
	p := New(inferencetest.Model(sess, inference.ImageOnly), nil)
	img, _ := aligned()
	_, err := p.Parse(img)
	assert.ErrorIs(t, err, faceerr.ErrInference)

	_, err = New(nil, nil).Parse(img)
	assert.ErrorIs(t, err, faceerr.ErrInference)
}

func TestFaceMaskErodesAndFeathers(t *testing.T) {
	p := New(inferencetest.Model(segmenter(128, 384, LabelSkin), inference.ImageOnly), imageops.Reference{})
	img, lm := aligned()
	mask, err := p.FaceMask(img, lm, 400)
	require.NoError(t, err)

	// Face square is [32,96) in the 128 canvas; erosion radius 4 pulls the
	// edge in, feathering softens it.
	assert.InDelta(t, 1, mask.At(64, 64), 1e-6)
	assert.Equal(t, float32(0), mask.At(10, 64))
	assert.Less(t, mask.At(35, 64), float32(0.5))
	assert.Greater(t, mask.At(35, 64), float32(0))
	for _, v := range mask.Pix {
		assert.True(t, v >= 0 && v <= 1)
	}
}

func TestFaceMaskFallsBackToEllipse(t *testing.T) {
	img, lm := aligned()
	withoutModel, err := New(nil, nil).FaceMask(img, lm, 150)
	require.NoError(t, err)
	assert.Greater(t, withoutModel.At(56+8, 72), float32(0.9))
	assert.Equal(t, float32(0), withoutModel.At(0, 0))

	// A model that finds no face pixels yields the same ellipse.
	empty := New(inferencetest.Model(segmenter(0, 0, LabelSkin), inference.ImageOnly), nil)
	got, err := empty.FaceMask(img, lm, 150)
	require.NoError(t, err)
	assert.Equal(t, withoutModel.Pix, got.Pix)
}

func TestEnhancerMask(t *testing.T) {
	p := New(inferencetest.Model(segmenter(64, 448, LabelSkin), inference.ImageOnly), nil)
	crop := imageops.NewImage(256, 256, 3)
	var lm [5]geometry.Point
	mask, err := p.EnhancerMask(crop, lm)
	require.NoError(t, err)
	assert.Equal(t, 256, mask.Width)
	assert.InDelta(t, 1, mask.At(128, 128), 1e-6)
	// edge at 32 px is feathered over several pixels
	assert.Greater(t, mask.At(32, 128), float32(0.2))
	assert.Less(t, mask.At(32, 128), float32(0.8))
	assert.Equal(t, 9, EnhancerFeatherKernel(256))
	assert.Equal(t, 7, EnhancerFeatherKernel(64))
}

func TestErosionRadius(t *testing.T) {
	cases := map[float64]int{0: 1, 90: 1, 160: 2, 260: 3, 1000: 4}
	for size, want := range cases {
		assert.Equal(t, want, ErosionRadius(size), "size %v", size)
	}
}

func TestEllipseMask(t *testing.T) {
	lm := [5]geometry.Point{{X: 40, Y: 50}, {X: 60, Y: 50}, {X: 50, Y: 60}, {X: 42, Y: 70}, {X: 58, Y: 70}}
	m := EllipseMask(imageops.Reference{}, 100, 100, lm)
	// centre (50,60), radii 25 x 30
	assert.Equal(t, float32(1), m.At(50, 60))
	assert.Equal(t, float32(1), m.At(74, 60))
	assert.Equal(t, float32(0), m.At(76, 60))
	assert.Equal(t, float32(1), m.At(50, 89))
	assert.Equal(t, float32(0), m.At(50, 91))

	var flat [5]geometry.Point
	assert.Zero(t, EllipseMask(imageops.Reference{}, 10, 10, flat).Count(0.5))
}
