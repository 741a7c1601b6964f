package imageops

import "math"

// sourceCoord maps a destination pixel centre to the source grid using
// half-pixel centres, clamped to the valid range.
func sourceCoord(d int, scale float64, n int) (i0, i1 int, frac float32) {
	s := (float64(d)+0.5)*scale - 0.5
	if s < 0 {
		s = 0
	}
	i0 = int(math.Floor(s))
	if i0 >= n-1 {
		return n - 1, n - 1, 0
	}
	return i0, i0 + 1, float32(s - float64(i0))
}

// Resize interpolates bilinearly, clamping at the source edges.
func (Reference) Resize(img *Image, width, height int) *Image {
	out := NewImage(width, height, img.Channels)
	out.Order = img.Order
	if width == img.Width && height == img.Height {
		copy(out.Pix, img.Pix)
		return out
	}
	sx := float64(img.Width) / float64(width)
	sy := float64(img.Height) / float64(height)
	ch := img.Channels
	for y := 0; y < height; y++ {
		y0, y1, fy := sourceCoord(y, sy, img.Height)
		for x := 0; x < width; x++ {
			x0, x1, fx := sourceCoord(x, sx, img.Width)
			o := (y*width + x) * ch
			p00 := (y0*img.Width + x0) * ch
			p01 := (y0*img.Width + x1) * ch
			p10 := (y1*img.Width + x0) * ch
			p11 := (y1*img.Width + x1) * ch
			for c := 0; c < ch; c++ {
				top := img.Pix[p00+c]*(1-fx) + img.Pix[p01+c]*fx
				bot := img.Pix[p10+c]*(1-fx) + img.Pix[p11+c]*fx
				out.Pix[o+c] = top*(1-fy) + bot*fy
			}
		}
	}
	return out
}

// ResizeMask resizes m through Resize.
func (r Reference) ResizeMask(m *Mask, width, height int) *Mask {
	img := r.Resize(m.image(), width, height)
	return &Mask{Width: width, Height: height, Pix: img.Pix}
}

// ResizeLabels scales a label map with nearest-neighbour sampling.
func ResizeLabels(labels []uint8, w, h, width, height int) []uint8 {
	out := make([]uint8, width*height)
	for y := 0; y < height; y++ {
		sy := min(int(float64(y)*float64(h)/float64(height)), h-1)
		for x := 0; x < width; x++ {
			sx := min(int(float64(x)*float64(w)/float64(width)), w-1)
			out[y*width+x] = labels[sy*w+sx]
		}
	}
	return out
}
