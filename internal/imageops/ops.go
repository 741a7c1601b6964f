package imageops

import (
	"image"
	"math"
)

// Ops is the set of image kernels used by alignment, preprocessing and
// blending. The pure-Go Reference and the OpenCV backend in cvops are
// expected to agree within float tolerance.
type Ops interface {
	Name() string
	// WarpAffine resamples src through the forward matrix m (src to dst,
	// row-major 2x3) over the destination rectangle r. Pixel (0,0) of the
	// result is r.Min. Sampling is bilinear; neighbours outside src read
	// fill. A singular m yields a result filled with fill.
	WarpAffine(src *Image, m [6]float64, r image.Rectangle, fill float32) *Image
	// WarpAffineMask is WarpAffine for a single-channel mask.
	WarpAffineMask(src *Mask, m [6]float64, r image.Rectangle, fill float32) *Mask
	// Resize scales img to width x height bilinearly with half-pixel centres.
	Resize(img *Image, width, height int) *Image
	// ResizeMask is Resize for a mask.
	ResizeMask(m *Mask, width, height int) *Mask
	// FillEllipse returns a width x height mask holding 1 inside the
	// axis-aligned ellipse with the given centre and semi-axes, 0 elsewhere.
	FillEllipse(width, height int, center, axes image.Point) *Mask
	// GaussianBlur convolves m with a ksize x ksize Gaussian (ksize odd) using
	// reflect-101 borders.
	GaussianBlur(m *Mask, ksize int, sigma float64) *Mask
	// Erode takes the minimum over a ksize x ksize rectangle. Out-of-bounds
	// samples are ignored.
	Erode(m *Mask, ksize int) *Mask
	// Dilate takes the maximum over a ksize x ksize rectangle.
	Dilate(m *Mask, ksize int) *Mask
	// ColorMatch scales each channel of src so its mean under mask (values
	// above 0.5) matches ref, with the gain clamped to [1-limit, 1+limit].
	ColorMatch(src, ref *Image, mask *Mask, limit float32) *Image
	Close() error
}

// GaussianSigma is the sigma OpenCV derives for a kernel size when none is
// given.
func GaussianSigma(ksize int) float64 {
	return 0.3*(float64(ksize-1)*0.5-1) + 0.8
}

// GaussianKernel returns the normalized 1-D kernel. Weights are computed in
// float64 and stored as float32.
func GaussianKernel(ksize int, sigma float64) []float32 {
	if sigma <= 0 {
		sigma = GaussianSigma(ksize)
	}
	w := make([]float64, ksize)
	half := float64(ksize-1) / 2
	sum := 0.0
	for i := range w {
		x := float64(i) - half
		w[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += w[i]
	}
	out := make([]float32, ksize)
	for i := range w {
		out[i] = float32(w[i] / sum)
	}
	return out
}

// OddKernel rounds k up to the next odd value, minimum 1.
func OddKernel(k int) int {
	if k < 1 {
		return 1
	}
	if k%2 == 0 {
		return k + 1
	}
	return k
}

// Reflect101 maps p into [0,n) mirroring about the edge pixels (gfedcb|abcdefgh|gfedcba).
func Reflect101(p, n int) int {
	if n == 1 {
		return 0
	}
	for p < 0 || p >= n {
		if p < 0 {
			p = -p
		} else {
			p = 2*n - 2 - p
		}
	}
	return p
}

// Reference implements Ops in pure Go.
type Reference struct{}

var _ Ops = Reference{}

func (Reference) Name() string { return "reference" }
func (Reference) Close() error { return nil }

// GaussianBlur runs the separable kernel horizontally then vertically.
func (Reference) GaussianBlur(m *Mask, ksize int, sigma float64) *Mask {
	ksize = OddKernel(ksize)
	if ksize == 1 {
		return m.Clone()
	}
	k := GaussianKernel(ksize, sigma)
	half := ksize / 2
	w, h := m.Width, m.Height

	tmp := make([]float32, w*h)
	for y := 0; y < h; y++ {
		row := m.Pix[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				acc += float64(kv) * float64(row[Reflect101(x+i-half, w)])
			}
			tmp[y*w+x] = float32(acc)
		}
	}
	out := NewMask(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				acc += float64(kv) * float64(tmp[Reflect101(y+i-half, h)*w+x])
			}
			out.Pix[y*w+x] = float32(acc)
		}
	}
	return out
}

// Erode is a rectangular minimum filter.
func (Reference) Erode(m *Mask, ksize int) *Mask {
	return morph(m, OddKernel(ksize), func(a, b float32) bool { return b < a })
}

func (Reference) Dilate(m *Mask, ksize int) *Mask {
	return morph(m, OddKernel(ksize), func(a, b float32) bool { return b > a })
}

// morph applies a separable rectangular min/max filter. better(a, b) reports
// whether b should replace a.
func morph(m *Mask, ksize int, better func(a, b float32) bool) *Mask {
	if ksize == 1 {
		return m.Clone()
	}
	half := ksize / 2
	w, h := m.Width, m.Height
	tmp := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := m.Pix[y*w+x]
			for xx := max(0, x-half); xx <= min(w-1, x+half); xx++ {
				if s := m.Pix[y*w+xx]; better(v, s) {
					v = s
				}
			}
			tmp[y*w+x] = v
		}
	}
	out := NewMask(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := tmp[y*w+x]
			for yy := max(0, y-half); yy <= min(h-1, y+half); yy++ {
				if s := tmp[yy*w+x]; better(v, s) {
					v = s
				}
			}
			out.Pix[y*w+x] = v
		}
	}
	return out
}

// ColorMatch applies ChannelGains computed from the masked means.
func (Reference) ColorMatch(src, ref *Image, mask *Mask, limit float32) *Image {
	gains := ChannelGains(MaskedMean(src, mask), MaskedMean(ref, mask), limit)
	return ApplyGains(src, gains)
}

// MaskedMean returns per-channel means over pixels whose mask value exceeds
// 0.5. An empty selection yields zeros.
func MaskedMean(img *Image, mask *Mask) []float64 {
	means := make([]float64, img.Channels)
	n := 0
	for i, mv := range mask.Pix {
		if mv <= 0.5 {
			continue
		}
		n++
		for c := 0; c < img.Channels; c++ {
			means[c] += float64(img.Pix[i*img.Channels+c])
		}
	}
	if n == 0 {
		return means
	}
	for c := range means {
		means[c] /= float64(n)
	}
	return means
}

// ChannelGains computes ref/src per channel, clamped to [1-limit, 1+limit].
// Channels whose source mean is near zero keep a gain of 1.
func ChannelGains(srcMean, refMean []float64, limit float32) []float32 {
	gains := make([]float32, len(srcMean))
	lo, hi := 1-float64(limit), 1+float64(limit)
	for c := range gains {
		g := 1.0
		if srcMean[c] > 1e-6 {
			g = math.Min(math.Max(refMean[c]/srcMean[c], lo), hi)
		}
		gains[c] = float32(g)
	}
	return gains
}

// ApplyGains multiplies each channel by its gain and clamps to [0,1].
func ApplyGains(img *Image, gains []float32) *Image {
	out := img.Clone()
	for i := range out.Pix {
		out.Pix[i] = clamp01(out.Pix[i] * gains[i%img.Channels])
	}
	return out
}
