package enhancer

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/geometry"
	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/inference/inferencetest"
	"github.com/dudu/faceswap/internal/parser"
)

const testSize = 64

// whiteModel returns +1 everywhere, which denormalizes to white.
func whiteModel() *inferencetest.Session {
	return inferencetest.NewSession("enhancer", func(in []inference.Tensor) ([]inference.Tensor, error) {
		out := make([]float32, len(in[0].Data))
		for i := range out {
			out[i] = 1
		}
		return []inference.Tensor{{Shape: in[0].Shape, Data: out}}, nil
	})
}

func grey(w, h int) *imageops.Image {
	img := imageops.NewImage(w, h, 3)
	for i := range img.Pix {
		img.Pix[i] = 0.25
	}
	return img
}

func testFace() detector.Face {
	f := detector.Face{Box: detector.Box{X: 50, Y: 40, Width: 100, Height: 100, Confidence: 0.9}}
	f.Landmarks = [5]geometry.Point{{X: 80, Y: 75}, {X: 120, Y: 75}, {X: 100, Y: 95}, {X: 85, Y: 115}, {X: 115, Y: 115}}
	return f
}

func TestCropRect(t *testing.T) {
	r := CropRect(detector.Box{X: 50, Y: 40, Width: 100, Height: 80})
	assert.Equal(t, image.Rect(40, 20, 160, 140), r)

	// Near the corner the square extends past the image instead of shrinking.
	corner := CropRect(detector.Box{X: 0, Y: 0, Width: 100, Height: 100})
	assert.Equal(t, image.Rect(-10, -10, 110, 110), corner)
	assert.Equal(t, corner.Dx(), corner.Dy())
}

func TestEdgeFeather(t *testing.T) {
	m := EdgeFeather(21, 21, 5)
	assert.Equal(t, float32(0), m.At(0, 10))
	assert.InDelta(t, 0.4, m.At(2, 10), 1e-6)
	assert.Equal(t, float32(1), m.At(10, 10))
	assert.Equal(t, float32(0), m.At(20, 20))
}

func TestEnhanceBlendsInsideCrop(t *testing.T) {
	sess := whiteModel()
	e := New(inferencetest.Model(sess, inference.ImageOnly), nil, testSize, nil)
	dst := grey(220, 200)

	r, err := e.Enhance(dst, testFace())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(40, 30, 160, 150), r)

	in := sess.LastInputs()[0]
	assert.Equal(t, []int64{1, 3, testSize, testSize}, in.Shape)
	assert.InDelta(t, -0.5, in.Data[0], 1e-6)

	assert.InDelta(t, 1, dst.At(100, 90, 0), 1e-6)
	assert.Equal(t, float32(0.25), dst.At(40, 90, 0), "crop border keeps the original")
	assert.Equal(t, float32(0.25), dst.At(20, 20, 0))
	assert.Equal(t, float32(0.25), dst.At(170, 90, 1))
}

func TestEnhanceUsesParserMask(t *testing.T) {
	e := New(inferencetest.Model(whiteModel(), inference.ImageOnly), parser.New(nil, nil), testSize, imageops.Reference{})
	dst := grey(220, 200)
	_, err := e.Enhance(dst, testFace())
	require.NoError(t, err)

	// Landmark ellipse: centre (100,95), radii 50 x 60.
	assert.InDelta(t, 1, dst.At(100, 95, 0), 1e-3)
	assert.Equal(t, float32(0.25), dst.At(45, 95, 0))
}

func TestEnhanceErrors(t *testing.T) {
	var nilE *Enhancer
	_, err := nilE.Enhance(grey(10, 10), testFace())
	assert.ErrorIs(t, err, faceerr.ErrInference)

	bad := inferencetest.NewSession("enhancer", func([]inference.Tensor) ([]inference.Tensor, error) {
		return []inference.Tensor{{Shape: []int64{1, 3}, Data: make([]float32, 3)}}, nil
	})
	e := New(inferencetest.Model(bad, inference.ImageOnly), nil, testSize, nil)
	dst := grey(220, 200)
	_, err = e.Enhance(dst, testFace())
	assert.ErrorIs(t, err, faceerr.ErrInference)
	assert.Equal(t, float32(0.25), dst.At(100, 90, 0))
}

func TestEnhancePadsCropAtImageEdge(t *testing.T) {
	sess := whiteModel()
	e := New(inferencetest.Model(sess, inference.ImageOnly), nil, testSize, nil)
	dst := grey(200, 200)
	f := detector.Face{Box: detector.Box{X: 0, Y: 0, Width: 100, Height: 100}}

	r, err := e.Enhance(dst, f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 110, 110), r)

	// The model sees a square crop whose out-of-image corner is black.
	in := sess.LastInputs()[0]
	assert.Equal(t, []int64{1, 3, testSize, testSize}, in.Shape)
	assert.InDelta(t, -1, in.Data[0], 1e-6)
	assert.InDelta(t, -0.5, in.Data[testSize*testSize/2+testSize/2], 1e-6)

	assert.InDelta(t, 1, dst.At(50, 50, 0), 1e-6)
	assert.Equal(t, float32(0.25), dst.At(150, 150, 0))
}

func TestEnhanceTinyCrop(t *testing.T) {
	e := New(inferencetest.Model(whiteModel(), inference.ImageOnly), nil, testSize, nil)
	f := detector.Face{Box: detector.Box{X: 500, Y: 500, Width: 10, Height: 10}}
	r, err := e.Enhance(grey(100, 100), f)
	require.NoError(t, err)
	assert.True(t, r.Empty())
}
