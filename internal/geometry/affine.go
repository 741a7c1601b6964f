// Package geometry estimates face alignment transforms and resamples images
// through them.
package geometry

import (
	"math"

	"github.com/dudu/faceswap/internal/faceerr"
)

// Point is a 2-D coordinate in pixels.
type Point struct {
	X, Y float64
}

// Affine is a 2x3 matrix [a b tx; c d ty] mapping source to destination:
// x' = a*x + b*y + tx, y' = c*x + d*y + ty.
type Affine [6]float64

// Identity returns the identity transform.
func Identity() Affine {
	return Affine{1, 0, 0, 0, 1, 0}
}

// Apply maps p through m.
func (m Affine) Apply(p Point) Point {
	return Point{
		X: m[0]*p.X + m[1]*p.Y + m[2],
		Y: m[3]*p.X + m[4]*p.Y + m[5],
	}
}

// ApplyAll maps every point through m.
func (m Affine) ApplyAll(pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = m.Apply(p)
	}
	return out
}

// Det is the determinant of the linear part.
func (m Affine) Det() float64 {
	return m[0]*m[4] - m[1]*m[3]
}

// Scale is the isotropic scale factor, sqrt(|det|).
func (m Affine) Scale() float64 {
	return math.Sqrt(math.Abs(m.Det()))
}

// Invert returns the inverse transform. A linear part with |det| < 1e-10 is
// treated as singular.
func (m Affine) Invert() (Affine, error) {
	det := m.Det()
	if math.Abs(det) < 1e-10 {
		return Affine{}, faceerr.Errorf(faceerr.KindAlignment, "invert", "singular transform (det=%g)", det)
	}
	ia := m[4] / det
	ib := -m[1] / det
	ic := -m[3] / det
	id := m[0] / det
	return Affine{
		ia, ib, -(ia*m[2] + ib*m[5]),
		ic, id, -(ic*m[2] + id*m[5]),
	}, nil
}

// Then returns the transform applying m first and n second.
func (m Affine) Then(n Affine) Affine {
	return Affine{
		n[0]*m[0] + n[1]*m[3], n[0]*m[1] + n[1]*m[4], n[0]*m[2] + n[1]*m[5] + n[2],
		n[3]*m[0] + n[4]*m[3], n[3]*m[1] + n[4]*m[4], n[3]*m[2] + n[4]*m[5] + n[5],
	}
}
