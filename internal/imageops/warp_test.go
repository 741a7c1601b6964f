package imageops

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWarpAffineTranslation(t *testing.T) {
	src := gradient(10, 8, 3)
	out := Reference{}.WarpAffine(src, [6]float64{1, 0, 3, 0, 1, 2}, image.Rect(0, 0, 10, 8), -1)
	assert.Equal(t, src.At(0, 0, 0), out.At(3, 2, 0))
	assert.Equal(t, src.At(4, 5, 1), out.At(7, 7, 1))
	assert.Equal(t, float32(-1), out.At(0, 0, 0))
}

func TestWarpAffineRegionOffset(t *testing.T) {
	src := gradient(12, 12, 1)
	m := [6]float64{0.9, -0.2, 2, 0.2, 0.9, 1}
	full := Reference{}.WarpAffine(src, m, image.Rect(0, 0, 16, 16), 0)
	r := image.Rect(3, 4, 11, 13)
	part := Reference{}.WarpAffine(src, m, r, 0)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			assert.Equal(t, full.At(x, y, 0), part.At(x-r.Min.X, y-r.Min.Y, 0))
		}
	}
}

func TestWarpAffineSingularFills(t *testing.T) {
	m := Reference{}.WarpAffineMask(Filled(4, 4, 1), [6]float64{}, image.Rect(0, 0, 3, 3), 0.25)
	for _, v := range m.Pix {
		assert.Equal(t, float32(0.25), v)
	}
}

func TestFillEllipse(t *testing.T) {
	m := Reference{}.FillEllipse(100, 100, image.Pt(50, 60), image.Pt(25, 30))
	assert.Equal(t, float32(1), m.At(50, 60))
	assert.Equal(t, float32(1), m.At(74, 60))
	assert.Equal(t, float32(0), m.At(76, 60))
	assert.Equal(t, float32(1), m.At(50, 89))
	assert.Equal(t, float32(0), m.At(50, 91))

	assert.Zero(t, Reference{}.FillEllipse(10, 10, image.Pt(5, 5), image.Pt(0, 3)).Count(0.5))
	// Clipped at the canvas edge.
	edge := Reference{}.FillEllipse(20, 20, image.Pt(0, 0), image.Pt(10, 10))
	assert.Equal(t, float32(1), edge.At(0, 0))
	assert.Equal(t, float32(0), edge.At(19, 19))
}
