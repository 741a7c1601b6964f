package imageops

import (
	"image"
	"math"
)

// invertAffine inverts a forward 2x3 matrix. ok is false for a singular
// linear part.
func invertAffine(m [6]float64) (inv [6]float64, ok bool) {
	det := m[0]*m[4] - m[1]*m[3]
	if math.Abs(det) < 1e-10 {
		return inv, false
	}
	a, b := m[4]/det, -m[1]/det
	c, d := -m[3]/det, m[0]/det
	return [6]float64{a, b, -(a*m[2] + b*m[5]), c, d, -(c*m[2] + d*m[5])}, true
}

// WarpAffine maps each destination pixel back through the inverse of m.
func (Reference) WarpAffine(src *Image, m [6]float64, r image.Rectangle, fill float32) *Image {
	out := NewImage(r.Dx(), r.Dy(), src.Channels)
	out.Order = src.Order
	sample(src.Pix, src.Width, src.Height, src.Channels, m, r, fill, out.Pix)
	return out
}

// WarpAffineMask is WarpAffine on one channel.
func (Reference) WarpAffineMask(src *Mask, m [6]float64, r image.Rectangle, fill float32) *Mask {
	out := NewMask(r.Dx(), r.Dy())
	sample(src.Pix, src.Width, src.Height, 1, m, r, fill, out.Pix)
	return out
}

// sample fills out with the bilinear sample of pix at m^-1(p) for every p in
// r. Neighbours outside the source read fill.
func sample(pix []float32, w, h, ch int, m [6]float64, r image.Rectangle, fill float32, out []float32) {
	inv, ok := invertAffine(m)
	if !ok {
		for i := range out {
			out[i] = fill
		}
		return
	}
	at := func(x, y, c int) float32 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return fill
		}
		return pix[(y*w+x)*ch+c]
	}
	ow := r.Dx()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			px := inv[0]*float64(x) + inv[1]*float64(y) + inv[2]
			py := inv[3]*float64(x) + inv[4]*float64(y) + inv[5]
			o := ((y-r.Min.Y)*ow + (x - r.Min.X)) * ch
			if px <= -1 || py <= -1 || px >= float64(w) || py >= float64(h) {
				for c := 0; c < ch; c++ {
					out[o+c] = fill
				}
				continue
			}
			x0 := int(math.Floor(px))
			y0 := int(math.Floor(py))
			fx := float32(px - float64(x0))
			fy := float32(py - float64(y0))
			for c := 0; c < ch; c++ {
				top := at(x0, y0, c)*(1-fx) + at(x0+1, y0, c)*fx
				bot := at(x0, y0+1, c)*(1-fx) + at(x0+1, y0+1, c)*fx
				out[o+c] = top*(1-fy) + bot*fy
			}
		}
	}
}

// FillEllipse tests every pixel centre in the bounding box against the
// ellipse equation.
func (Reference) FillEllipse(width, height int, center, axes image.Point) *Mask {
	mask := NewMask(width, height)
	if axes.X <= 0 || axes.Y <= 0 {
		return mask
	}
	rx, ry := float64(axes.X), float64(axes.Y)
	for y := max(0, center.Y-axes.Y); y <= min(height-1, center.Y+axes.Y); y++ {
		dy := float64(y-center.Y) / ry
		for x := max(0, center.X-axes.X); x <= min(width-1, center.X+axes.X); x++ {
			dx := float64(x-center.X) / rx
			if dx*dx+dy*dy <= 1 {
				mask.Pix[y*width+x] = 1
			}
		}
	}
	return mask
}
