package geometry

import (
	"image"
	"math"

	"github.com/dudu/faceswap/internal/imageops"
)

// Warp resamples src through m into a width x height image. Each destination
// pixel p takes the bilinear sample of src at m^-1(p); samples falling outside
// src read fill. A singular m is an alignment error.
func Warp(ops imageops.Ops, src *imageops.Image, m Affine, width, height int, fill float32) (*imageops.Image, error) {
	return WarpRegion(ops, src, m, image.Rect(0, 0, width, height), fill)
}

// WarpRegion is Warp restricted to the rectangle r of the destination plane.
// The returned image is r.Dx() x r.Dy() with pixel (0,0) at r.Min.
func WarpRegion(ops imageops.Ops, src *imageops.Image, m Affine, r image.Rectangle, fill float32) (*imageops.Image, error) {
	if _, err := m.Invert(); err != nil {
		return nil, err
	}
	return ops.WarpAffine(src, m, r, fill), nil
}

// WarpMask resamples a single-channel mask.
func WarpMask(ops imageops.Ops, src *imageops.Mask, m Affine, width, height int, fill float32) (*imageops.Mask, error) {
	return WarpMaskRegion(ops, src, m, image.Rect(0, 0, width, height), fill)
}

// WarpMaskRegion is WarpMask restricted to r.
func WarpMaskRegion(ops imageops.Ops, src *imageops.Mask, m Affine, r image.Rectangle, fill float32) (*imageops.Mask, error) {
	if _, err := m.Invert(); err != nil {
		return nil, err
	}
	return ops.WarpAffineMask(src, m, r, fill), nil
}

// Bounds returns the integer rectangle covering the corners of a
// width x height rectangle mapped through m.
func Bounds(m Affine, width, height int) image.Rectangle {
	corners := []Point{{0, 0}, {float64(width), 0}, {0, float64(height)}, {float64(width), float64(height)}}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range m.ApplyAll(corners) {
		minX = math.Min(minX, c.X)
		minY = math.Min(minY, c.Y)
		maxX = math.Max(maxX, c.X)
		maxY = math.Max(maxY, c.Y)
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

// CropOptions selects the post-processing AlignedCrop applies.
type CropOptions struct {
	// Normalize rescales [0,1] to [-1,1]. Out-of-bounds pixels become -1,
	// the black level of that range.
	Normalize bool
	// SwapRB exchanges the first and third channels.
	SwapRB bool
}

// AlignedCrop warps src into a size x size canvas through m. Out-of-bounds
// pixels are black.
func AlignedCrop(ops imageops.Ops, src *imageops.Image, m Affine, size int, opts CropOptions) (*imageops.Image, error) {
	out, err := Warp(ops, src, m, size, size, 0)
	if err != nil {
		return nil, err
	}
	if opts.SwapRB {
		out = out.SwapRB()
	}
	if opts.Normalize {
		for i, v := range out.Pix {
			out.Pix[i] = v*2 - 1
		}
	}
	return out, nil
}
