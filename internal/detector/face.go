package detector

import (
	"image"
	"math"

	"github.com/dudu/faceswap/internal/geometry"
)

// Box is a face bounding box in source-image pixels. Detection results use
// the same convention as landmarks: coordinates are pixel-centre positions,
// so both corners lie in [0,width-1] x [0,height-1].
type Box struct {
	X, Y          float64 // top-left
	Width, Height float64
	Confidence    float64
}

// X2 returns the right edge.
func (b Box) X2() float64 { return b.X + b.Width }

// Y2 returns the bottom edge.
func (b Box) Y2() float64 { return b.Y + b.Height }

// Area returns box area
func (b Box) Area() float64 { return b.Width * b.Height }

// Center returns box center point
func (b Box) Center() geometry.Point {
	return geometry.Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Rect returns the half-open pixel rectangle covering every pixel centre the
// box touches. For a detection it lies within the image bounds.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(math.Floor(b.X)), int(math.Floor(b.Y)), int(math.Floor(b.X2()))+1, int(math.Floor(b.Y2()))+1)
}

// Face is one detection: box, five landmarks (left eye, right eye, nose,
// left mouth corner, right mouth corner) and its rank in the result list.
type Face struct {
	Box       Box
	Landmarks [5]geometry.Point
	Index     int
}

// Size is the larger box side, used to scale mask kernels.
func (f Face) Size() float64 {
	return math.Max(f.Box.Width, f.Box.Height)
}

// Largest returns the face with the biggest box area.
func Largest(faces []Face) (Face, bool) {
	if len(faces) == 0 {
		return Face{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Box.Area() > best.Box.Area() {
			best = f
		}
	}
	return best, true
}
