package geometry

// Canonical five-point layouts: left eye, right eye, nose tip, left and right
// mouth corners.
var (
	// Template112 is the ArcFace layout for a 112x112 crop.
	Template112 = [5]Point{
		{38.2946, 51.6963},
		{73.5318, 51.5014},
		{56.0252, 71.7366},
		{41.5493, 92.3655},
		{70.7299, 92.2041},
	}
	// Template128 is the 112 layout shifted 8 px right, as used by the
	// 128x128 swap models.
	Template128 = shift(Template112, 8, 0)
)

func shift(t [5]Point, dx, dy float64) [5]Point {
	for i := range t {
		t[i].X += dx
		t[i].Y += dy
	}
	return t
}

// Template returns the layout for a square crop of the given size. Sizes
// other than 112 and 128 scale the 112 layout proportionally.
func Template(size int) []Point {
	switch size {
	case 112:
		t := Template112
		return t[:]
	case 128:
		t := Template128
		return t[:]
	}
	s := float64(size) / 112
	out := make([]Point, 5)
	for i, p := range Template112 {
		out[i] = Point{p.X * s, p.Y * s}
	}
	return out
}

// AlignTo fits the transform from detected landmarks to the template for a
// size x size crop.
func AlignTo(landmarks [5]Point, size int) (Affine, error) {
	return EstimateSimilarity(landmarks[:], Template(size))
}
