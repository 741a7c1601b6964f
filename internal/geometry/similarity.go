package geometry

import (
	"math"

	"github.com/dudu/faceswap/internal/faceerr"
)

// EstimateSimilarity fits the least-squares similarity transform (rotation,
// uniform scale, translation) taking src onto dst, following Umeyama (1991).
// When the source points have no spread the result is a pure translation
// between the centroids.
func EstimateSimilarity(src, dst []Point) (Affine, error) {
	n := len(src)
	if n == 0 || n != len(dst) {
		return Affine{}, faceerr.Errorf(faceerr.KindAlignment, "estimate",
			"need matching non-empty point sets, got %d and %d", len(src), len(dst))
	}

	var ms, md Point
	for i := range src {
		ms.X += src[i].X
		ms.Y += src[i].Y
		md.X += dst[i].X
		md.Y += dst[i].Y
	}
	inv := 1 / float64(n)
	ms.X *= inv
	ms.Y *= inv
	md.X *= inv
	md.Y *= inv

	// cov = 1/n * sum(d * s^T), varSrc = 1/n * sum(|s|^2) over centred points.
	var cov [4]float64
	var varSrc float64
	for i := range src {
		sx, sy := src[i].X-ms.X, src[i].Y-ms.Y
		dx, dy := dst[i].X-md.X, dst[i].Y-md.Y
		cov[0] += dx * sx
		cov[1] += dx * sy
		cov[2] += dy * sx
		cov[3] += dy * sy
		varSrc += sx*sx + sy*sy
	}
	for i := range cov {
		cov[i] *= inv
	}
	varSrc *= inv

	if varSrc < 1e-12 {
		return Affine{1, 0, md.X - ms.X, 0, 1, md.Y - ms.Y}, nil
	}

	u, s, vt := SVD2(cov)
	sign := 1.0
	if (u[0]*u[3]-u[1]*u[2])*(vt[0]*vt[3]-vt[1]*vt[2]) < 0 {
		sign = -1
	}
	// R = U * diag(1, sign) * Vt
	r := [4]float64{
		u[0]*vt[0] + sign*u[1]*vt[2], u[0]*vt[1] + sign*u[1]*vt[3],
		u[2]*vt[0] + sign*u[3]*vt[2], u[2]*vt[1] + sign*u[3]*vt[3],
	}
	scale := (s[0] + sign*s[1]) / varSrc

	a, b := scale*r[0], scale*r[1]
	c, d := scale*r[2], scale*r[3]
	return Affine{
		a, b, md.X - (a*ms.X + b*ms.Y),
		c, d, md.Y - (c*ms.X + d*ms.Y),
	}, nil
}

// SVD2 decomposes the row-major 2x2 matrix m into U * diag(s) * Vt with
// s[0] >= s[1] >= 0, using the closed form for 2x2 matrices.
func SVD2(m [4]float64) (u [4]float64, s [2]float64, vt [4]float64) {
	e := (m[0] + m[3]) / 2
	f := (m[0] - m[3]) / 2
	g := (m[2] + m[1]) / 2
	h := (m[2] - m[1]) / 2
	q := math.Hypot(e, h)
	r := math.Hypot(f, g)
	s1, s2 := q+r, q-r
	a1 := math.Atan2(g, f)
	a2 := math.Atan2(h, e)
	phi := (a2 + a1) / 2
	theta := (a2 - a1) / 2

	cp, sp := math.Cos(phi), math.Sin(phi)
	ct, st := math.Cos(theta), math.Sin(theta)
	u = [4]float64{cp, -sp, sp, cp}
	vt = [4]float64{ct, -st, st, ct}
	if s2 < 0 {
		// flip the second left singular vector to keep s non-negative
		u[1], u[3] = -u[1], -u[3]
		s2 = -s2
	}
	return u, [2]float64{s1, s2}, vt
}
