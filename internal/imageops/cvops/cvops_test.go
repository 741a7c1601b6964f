package cvops

import (
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/faceswap/internal/imageops"
)

func randomMask(w, h int, seed int64) *imageops.Mask {
	r := rand.New(rand.NewSource(seed))
	m := imageops.NewMask(w, h)
	for i := range m.Pix {
		if r.Float32() > 0.4 {
			m.Pix[i] = 255
		}
	}
	return m
}

func assertClose(t *testing.T, want, got *imageops.Mask, tol float64) {
	t.Helper()
	require.Equal(t, want.Width, got.Width)
	require.Equal(t, want.Height, got.Height)
	for i := range want.Pix {
		if !assert.InDelta(t, want.Pix[i], got.Pix[i], tol, "index %d", i) {
			return
		}
	}
}

func TestConformsToReference(t *testing.T) {
	ops := New()
	defer ops.Close()
	ref := imageops.Reference{}
	m := randomMask(37, 29, 1)

	for _, k := range []int{3, 5, 11} {
		assertClose(t, ref.GaussianBlur(m, k, imageops.GaussianSigma(k)), ops.GaussianBlur(m, k, 0), 1e-2)
		assertClose(t, ref.GaussianBlur(m, k, 1.5), ops.GaussianBlur(m, k, 1.5), 1e-2)
		assertClose(t, ref.Erode(m, k), ops.Erode(m, k), 0)
		assertClose(t, ref.Dilate(m, k), ops.Dilate(m, k), 0)
	}
}

func TestColorMatchConforms(t *testing.T) {
	ops := New()
	defer ops.Close()
	r := rand.New(rand.NewSource(2))
	src := imageops.NewImage(16, 12, 3)
	dst := imageops.NewImage(16, 12, 3)
	for i := range src.Pix {
		src.Pix[i] = r.Float32()
		dst.Pix[i] = r.Float32() * 0.8
	}
	mask := randomMask(16, 12, 3)
	mask.Scale(1.0 / 255)

	want := imageops.Reference{}.ColorMatch(src, dst, mask, 0.2)
	got := ops.ColorMatch(src, dst, mask, 0.2)
	require.Equal(t, len(want.Pix), len(got.Pix))
	for i := range want.Pix {
		assert.InDelta(t, want.Pix[i], got.Pix[i], 1e-4)
	}
}

func randomImage(w, h, ch int, seed int64) *imageops.Image {
	r := rand.New(rand.NewSource(seed))
	img := imageops.NewImage(w, h, ch)
	for i := range img.Pix {
		img.Pix[i] = r.Float32()
	}
	return img
}

func TestWarpAffineConforms(t *testing.T) {
	ops := New()
	defer ops.Close()
	ref := imageops.Reference{}
	src := randomImage(40, 32, 3, 4)
	m := [6]float64{1.3, 0.25, -6, -0.25, 1.3, 4}

	for _, r := range []image.Rectangle{image.Rect(0, 0, 64, 56), image.Rect(9, 7, 31, 40)} {
		for _, fill := range []float32{0, -1} {
			want := ref.WarpAffine(src, m, r, fill)
			got := ops.WarpAffine(src, m, r, fill)
			require.Equal(t, want.Width, got.Width)
			require.Equal(t, want.Height, got.Height)
			require.Equal(t, len(want.Pix), len(got.Pix))
			for i := range want.Pix {
				if !assert.InDelta(t, want.Pix[i], got.Pix[i], 0.05, "rect %v fill %v index %d", r, fill, i) {
					break
				}
			}
		}
	}

	mask := randomMask(30, 30, 5)
	assertClose(t, ref.WarpAffineMask(mask, m, image.Rect(2, 2, 40, 40), 0),
		ops.WarpAffineMask(mask, m, image.Rect(2, 2, 40, 40), 0), 0.05*255)

	singular := ops.WarpAffineMask(mask, [6]float64{}, image.Rect(0, 0, 5, 5), 0.5)
	for _, v := range singular.Pix {
		assert.Equal(t, float32(0.5), v)
	}
}

func TestResizeConforms(t *testing.T) {
	ops := New()
	defer ops.Close()
	ref := imageops.Reference{}
	img := randomImage(48, 36, 3, 6)
	img.Order = imageops.BGR

	for _, size := range []image.Point{{96, 72}, {37, 53}, {48, 36}} {
		want := ref.Resize(img, size.X, size.Y)
		got := ops.Resize(img, size.X, size.Y)
		require.Equal(t, len(want.Pix), len(got.Pix))
		assert.Equal(t, imageops.BGR, got.Order)
		for i := range want.Pix {
			if !assert.InDelta(t, want.Pix[i], got.Pix[i], 1e-3, "size %v index %d", size, i) {
				break
			}
		}
	}
	m := randomMask(20, 20, 7)
	assertClose(t, ref.ResizeMask(m, 41, 13), ops.ResizeMask(m, 41, 13), 1e-3*255)
}

func TestFillEllipseConforms(t *testing.T) {
	ops := New()
	defer ops.Close()
	center, axes := image.Pt(50, 60), image.Pt(25, 30)
	want := imageops.Reference{}.FillEllipse(100, 100, center, axes)
	got := ops.FillEllipse(100, 100, center, axes)
	require.Equal(t, len(want.Pix), len(got.Pix))

	// OpenCV rasterizes a polygon approximation, so only the rim may differ.
	diff := 0
	for i := range want.Pix {
		if want.Pix[i] != got.Pix[i] {
			diff++
		}
	}
	assert.Less(t, diff, want.Count(0.5)/20)
	assert.Equal(t, float32(1), got.At(50, 60))
	assert.Equal(t, float32(0), got.At(90, 10))
	assert.Zero(t, ops.FillEllipse(10, 10, image.Pt(5, 5), image.Pt(0, 2)).Count(0.5))
}

func TestKernelCacheReleased(t *testing.T) {
	ops := New()
	ops.Erode(imageops.Filled(4, 4, 1), 3)
	assert.Len(t, ops.kernels, 1)
	require.NoError(t, ops.Close())
	assert.Empty(t, ops.kernels)
}
