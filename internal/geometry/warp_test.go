package geometry

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/imageops"
)

var ref = imageops.Reference{}

func ramp(w, h int) *imageops.Image {
	img := imageops.NewImage(w, h, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, 0, float32(x)/float32(w))
			img.Set(x, y, 1, float32(y)/float32(h))
			img.Set(x, y, 2, 0.5)
		}
	}
	return img
}

func TestWarpIdentity(t *testing.T) {
	src := ramp(10, 8)
	out, err := Warp(ref, src, Identity(), 10, 8, 0)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, out.Pix)
}

func TestWarpTranslationAndFill(t *testing.T) {
	src := ramp(10, 8)
	out, err := Warp(ref, src, Affine{1, 0, 3, 0, 1, 2}, 10, 8, -1)
	require.NoError(t, err)
	assert.Equal(t, src.At(0, 0, 0), out.At(3, 2, 0))
	assert.Equal(t, src.At(4, 5, 1), out.At(7, 7, 1))
	assert.Equal(t, float32(-1), out.At(0, 0, 0))
}

func TestWarpRegionMatchesFullWarp(t *testing.T) {
	src := ramp(16, 16)
	m := similarity(0.8, 0.2, 3, 1)
	full, err := Warp(ref, src, m, 20, 20, 0)
	require.NoError(t, err)
	r := image.Rect(4, 5, 12, 15)
	part, err := WarpRegion(ref, src, m, r, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, part.Width)
	assert.Equal(t, 10, part.Height)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			assert.Equal(t, full.At(x, y, 0), part.At(x-r.Min.X, y-r.Min.Y, 0))
		}
	}
}

func TestWarpRoundTrip(t *testing.T) {
	src := ramp(64, 64)
	m := similarity(1.5, 0.4, 10, -5)
	fwd, err := Warp(ref, src, m, 160, 160, 0)
	require.NoError(t, err)
	inv, err := m.Invert()
	require.NoError(t, err)
	back, err := Warp(ref, fwd, inv, 64, 64, 0)
	require.NoError(t, err)
	// interior pixels survive the round trip
	for y := 20; y < 44; y++ {
		for x := 20; x < 44; x++ {
			assert.InDelta(t, src.At(x, y, 0), back.At(x, y, 0), 0.02)
		}
	}
}

func TestWarpMask(t *testing.T) {
	m := imageops.Filled(4, 4, 255)
	out, err := WarpMask(ref, m, Affine{1, 0, 10, 0, 1, 0}, 8, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, float32(0), out.At(0, 0))

	_, err = WarpMask(ref, m, Affine{}, 4, 4, 0)
	assert.ErrorIs(t, err, faceerr.ErrAlignment)
}

func TestBounds(t *testing.T) {
	r := Bounds(Affine{2, 0, 5, 0, 2, -3}, 10, 10)
	assert.Equal(t, image.Rect(5, -3, 25, 17), r)
}

func TestAlignedCrop(t *testing.T) {
	src := imageops.NewImage(4, 4, 3)
	for i := 0; i < len(src.Pix); i += 3 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2] = 1, 0.5, 0
	}
	// Shift right by 2 so the left columns fall outside the source.
	m := Affine{1, 0, 2, 0, 1, 0}

	plain, err := AlignedCrop(ref, src, m, 4, CropOptions{})
	require.NoError(t, err)
	assert.Equal(t, float32(0), plain.At(0, 0, 0))
	assert.Equal(t, float32(1), plain.At(3, 0, 0))

	swapped, err := AlignedCrop(ref, src, m, 4, CropOptions{Normalize: true, SwapRB: true})
	require.NoError(t, err)
	assert.Equal(t, float32(-1), swapped.At(0, 0, 0))
	assert.Equal(t, float32(-1), swapped.At(3, 0, 0))
	assert.Equal(t, float32(0), swapped.At(3, 0, 1))
	assert.Equal(t, float32(1), swapped.At(3, 0, 2))
	assert.Equal(t, imageops.BGR, swapped.Order)
}
