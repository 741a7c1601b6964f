package imageops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h, c int) *Image {
	img := NewImage(w, h, c)
	for i := range img.Pix {
		img.Pix[i] = float32(i%251) / 250
	}
	return img
}

func TestCHWRoundTrip(t *testing.T) {
	img := gradient(5, 4, 3)
	planar := img.CHW()
	assert.Equal(t, img.At(2, 1, 0), planar[1*5+2])
	assert.Equal(t, img.At(2, 1, 2), planar[2*20+1*5+2])

	back, err := FromCHW(planar, 5, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, back.Pix)

	_, err = FromCHW(planar[:10], 5, 4, 3)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	_, err := FromPix(make([]float32, 11), 2, 2, 3)
	assert.Error(t, err)
	img, err := FromPix(make([]float32, 12), 2, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Width)
	assert.Error(t, (&Image{}).Validate())
}

func TestSwapRB(t *testing.T) {
	img := NewImage(1, 1, 3)
	copy(img.Pix, []float32{0.1, 0.2, 0.3})
	s := img.SwapRB()
	assert.Equal(t, []float32{0.3, 0.2, 0.1}, s.Pix)
	assert.Equal(t, BGR, s.Order)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, img.Pix)
}

func TestResize(t *testing.T) {
	img := gradient(8, 8, 3)
	ref := Reference{}
	same := ref.Resize(img, 8, 8)
	assert.Equal(t, img.Pix, same.Pix)

	flat := NewImage(4, 4, 1)
	for i := range flat.Pix {
		flat.Pix[i] = 0.5
	}
	up := ref.Resize(flat, 9, 7)
	for _, v := range up.Pix {
		assert.InDelta(t, 0.5, v, 1e-6)
	}

	// Exact 2x downscale averages each 2x2 block.
	src := NewImage(2, 2, 1)
	copy(src.Pix, []float32{0, 1, 1, 0})
	down := ref.Resize(src, 1, 1)
	assert.InDelta(t, 0.5, down.Pix[0], 1e-6)

	m := ref.ResizeMask(Filled(3, 3, 2), 6, 5)
	assert.Equal(t, 6, m.Width)
	assert.Equal(t, 5, m.Height)
	assert.InDelta(t, 2, m.At(5, 4), 1e-6)
}

func TestResizeLabels(t *testing.T) {
	labels := []uint8{1, 2, 3, 4}
	out := ResizeLabels(labels, 2, 2, 4, 4)
	assert.Equal(t, uint8(1), out[0])
	assert.Equal(t, uint8(2), out[3])
	assert.Equal(t, uint8(4), out[15])
}

func TestMaskHelpers(t *testing.T) {
	m := Filled(3, 3, 0.6)
	m.Set(1, 1, 0.2)
	assert.Equal(t, 8, m.Count(0.5))
	m.Threshold(0.5, 255)
	assert.Equal(t, float32(255), m.At(0, 0))
	assert.Equal(t, float32(0), m.At(1, 1))

	o := Filled(3, 3, 0.5)
	require.NoError(t, m.Mul(o))
	assert.Equal(t, float32(127.5), m.At(0, 0))
	assert.Error(t, m.Mul(NewMask(2, 2)))
	assert.NotPanics(t, func() {
		assert.Error(t, m.Mul(nil))
	})
}
