package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/faceswap/internal/faceerr"
)

func similarity(scale, angle, tx, ty float64) Affine {
	c, s := math.Cos(angle)*scale, math.Sin(angle)*scale
	return Affine{c, -s, tx, s, c, ty}
}

func assertAffine(t *testing.T, want, got Affine, tol float64) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], tol, "element %d", i)
	}
}

func TestEstimateSimilarityIdentity(t *testing.T) {
	m, err := EstimateSimilarity(Template112[:], Template112[:])
	require.NoError(t, err)
	assertAffine(t, Identity(), m, 1e-9)
}

func TestEstimateSimilarityRecoversTransform(t *testing.T) {
	cases := []Affine{
		similarity(1, 0, 12, -7),
		similarity(2.5, 0.3, 40, 10),
		similarity(0.4, -2.8, -3, 90),
		similarity(1.7, math.Pi, 0, 0),
	}
	for _, want := range cases {
		dst := want.ApplyAll(Template112[:])
		got, err := EstimateSimilarity(Template112[:], dst)
		require.NoError(t, err)
		assertAffine(t, want, got, 1e-9)
	}
}

func TestEstimateSimilarityReflectedInput(t *testing.T) {
	// A mirrored point set cannot be matched by a similarity; the fit must
	// still be a proper rotation (positive determinant).
	src := Template112[:]
	dst := make([]Point, len(src))
	for i, p := range src {
		dst[i] = Point{-p.X, p.Y}
	}
	m, err := EstimateSimilarity(src, dst)
	require.NoError(t, err)
	assert.Greater(t, m.Det(), 0.0)
}

func TestEstimateSimilarityDegenerate(t *testing.T) {
	src := []Point{{5, 5}, {5, 5}, {5, 5}}
	dst := []Point{{7, 1}, {9, 3}, {8, 2}}
	m, err := EstimateSimilarity(src, dst)
	require.NoError(t, err)
	assertAffine(t, Affine{1, 0, 3, 0, 1, -3}, m, 1e-9)

	_, err = EstimateSimilarity(src, dst[:2])
	assert.ErrorIs(t, err, faceerr.ErrAlignment)
	_, err = EstimateSimilarity(nil, nil)
	assert.Error(t, err)
}

func TestSVD2Reconstructs(t *testing.T) {
	mats := [][4]float64{
		{1, 2, 3, 4},
		{-3, 0.5, 2, -1},
		{2, 0, 0, -5},
		{0, 0, 0, 0},
		{1, 1, 1, 1},
	}
	for _, m := range mats {
		u, s, vt := SVD2(m)
		assert.GreaterOrEqual(t, s[0], s[1])
		assert.GreaterOrEqual(t, s[1], 0.0)
		// U * diag(s) * Vt
		got := [4]float64{
			u[0]*s[0]*vt[0] + u[1]*s[1]*vt[2], u[0]*s[0]*vt[1] + u[1]*s[1]*vt[3],
			u[2]*s[0]*vt[0] + u[3]*s[1]*vt[2], u[2]*s[0]*vt[1] + u[3]*s[1]*vt[3],
		}
		for i := range m {
			assert.InDelta(t, m[i], got[i], 1e-9, "matrix %v element %d", m, i)
		}
	}
}

func TestInvertRoundTrip(t *testing.T) {
	m := similarity(1.3, 0.7, 25, -4)
	inv, err := m.Invert()
	require.NoError(t, err)
	assertAffine(t, Identity(), m.Then(inv), 1e-12)
	for _, p := range Template128 {
		q := inv.Apply(m.Apply(p))
		assert.InDelta(t, p.X, q.X, 1e-9)
		assert.InDelta(t, p.Y, q.Y, 1e-9)
	}
	assert.InDelta(t, 1.3, m.Scale(), 1e-12)
}

func TestInvertSingular(t *testing.T) {
	_, err := Affine{1, 2, 0, 2, 4, 0}.Invert()
	assert.ErrorIs(t, err, faceerr.ErrAlignment)
	assert.Equal(t, faceerr.KindAlignment, faceerr.KindOf(err))
}

func TestTemplates(t *testing.T) {
	for i := range Template112 {
		assert.InDelta(t, Template112[i].X+8, Template128[i].X, 1e-12)
		assert.Equal(t, Template112[i].Y, Template128[i].Y)
	}
	tpl := Template(112)
	tpl[0].X = 0
	assert.Equal(t, 38.2946, Template112[0].X)
	assert.InDelta(t, 38.2946*2, Template(224)[0].X, 1e-9)
}

func TestAlignTo(t *testing.T) {
	want := similarity(0.5, 0.1, 10, 20)
	inv, err := want.Invert()
	require.NoError(t, err)
	var lm [5]Point
	for i, p := range Template128 {
		lm[i] = inv.Apply(p)
	}
	got, err := AlignTo(lm, 128)
	require.NoError(t, err)
	assertAffine(t, want, got, 1e-9)
}
