// Package cvops implements imageops.Ops on OpenCV through gocv.
package cvops

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dudu/faceswap/internal/imageops"
)

// Ops runs the image kernels in OpenCV. Structuring elements are cached per
// kernel size and released by Close. Any matrix conversion failure falls back
// to imageops.Reference for that call.
type Ops struct {
	mu      sync.Mutex
	kernels map[int]gocv.Mat
}

var _ imageops.Ops = (*Ops)(nil)

// New returns an OpenCV backend with an empty kernel cache.
func New() *Ops {
	return &Ops{kernels: make(map[int]gocv.Mat)}
}

// Name identifies the backend in logs.
func (o *Ops) Name() string { return "opencv" }

// Close releases the cached structuring elements. The backend stays usable.
func (o *Ops) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, m := range o.kernels {
		m.Close()
		delete(o.kernels, k)
	}
	return nil
}

func (o *Ops) kernel(ksize int) gocv.Mat {
	o.mu.Lock()
	defer o.mu.Unlock()
	if k, ok := o.kernels[ksize]; ok {
		return k
	}
	k := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(ksize, ksize))
	o.kernels[ksize] = k
	return k
}

// GaussianBlur calls cv::GaussianBlur with reflect-101 borders.
func (o *Ops) GaussianBlur(m *imageops.Mask, ksize int, sigma float64) *imageops.Mask {
	ksize = imageops.OddKernel(ksize)
	if ksize == 1 {
		return m.Clone()
	}
	if sigma <= 0 {
		sigma = imageops.GaussianSigma(ksize)
	}
	src, err := maskToMat(m)
	if err != nil {
		return imageops.Reference{}.GaussianBlur(m, ksize, sigma)
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.GaussianBlur(src, &dst, image.Pt(ksize, ksize), sigma, sigma, gocv.BorderReflect101)
	out, err := matToMask(dst)
	if err != nil {
		return imageops.Reference{}.GaussianBlur(m, ksize, sigma)
	}
	return out
}

// Erode calls cv::erode with a cached rectangular element.
func (o *Ops) Erode(m *imageops.Mask, ksize int) *imageops.Mask {
	ksize = imageops.OddKernel(ksize)
	if ksize == 1 {
		return m.Clone()
	}
	src, err := maskToMat(m)
	if err != nil {
		return imageops.Reference{}.Erode(m, ksize)
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Erode(src, &dst, o.kernel(ksize))
	out, err := matToMask(dst)
	if err != nil {
		return imageops.Reference{}.Erode(m, ksize)
	}
	return out
}

// Dilate calls cv::dilate with a cached rectangular element.
func (o *Ops) Dilate(m *imageops.Mask, ksize int) *imageops.Mask {
	ksize = imageops.OddKernel(ksize)
	if ksize == 1 {
		return m.Clone()
	}
	src, err := maskToMat(m)
	if err != nil {
		return imageops.Reference{}.Dilate(m, ksize)
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Dilate(src, &dst, o.kernel(ksize))
	out, err := matToMask(dst)
	if err != nil {
		return imageops.Reference{}.Dilate(m, ksize)
	}
	return out
}

// ColorMatch takes masked channel means with cv::mean and scales the split
// channels before merging and clamping to [0,1].
func (o *Ops) ColorMatch(src, ref *imageops.Image, mask *imageops.Mask, limit float32) *imageops.Image {
	srcMat, err1 := imageToMat(src)
	refMat, err2 := imageToMat(ref)
	maskMat, err3 := maskToMat(mask)
	defer srcMat.Close()
	defer refMat.Close()
	defer maskMat.Close()
	if err1 != nil || err2 != nil || err3 != nil || src.Channels > 4 {
		return imageops.Reference{}.ColorMatch(src, ref, mask, limit)
	}

	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(maskMat, &bin, 0.5, 255, gocv.ThresholdBinary)
	sel := gocv.NewMat()
	defer sel.Close()
	bin.ConvertTo(&sel, gocv.MatTypeCV8UC1)

	gains := imageops.ChannelGains(
		scalarMeans(srcMat.MeanWithMask(sel), src.Channels),
		scalarMeans(refMat.MeanWithMask(sel), ref.Channels),
		limit,
	)

	chans := gocv.Split(srcMat)
	for i := range chans {
		chans[i].MultiplyFloat(gains[i])
	}
	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(chans, &merged)
	for _, c := range chans {
		c.Close()
	}
	gocv.Threshold(merged, &merged, 1, 1, gocv.ThresholdTrunc)
	gocv.Threshold(merged, &merged, 0, 0, gocv.ThresholdToZero)

	out, err := matToImage(merged, src.Channels)
	if err != nil {
		return imageops.Reference{}.ColorMatch(src, ref, mask, limit)
	}
	out.Order = src.Order
	return out
}

// WarpAffine calls cv::warpAffine with bilinear sampling and a constant
// border. The border colour is limited to 8-bit values, so a non-zero fill
// is subtracted before warping and added back after.
func (o *Ops) WarpAffine(src *imageops.Image, m [6]float64, r image.Rectangle, fill float32) *imageops.Image {
	if r.Empty() || src.Channels > 4 {
		return imageops.Reference{}.WarpAffine(src, m, r, fill)
	}
	srcMat, err := imageToMat(src)
	defer srcMat.Close()
	if err != nil {
		return imageops.Reference{}.WarpAffine(src, m, r, fill)
	}
	dst, ok := warp(srcMat, m, r, fill)
	defer dst.Close()
	if !ok {
		return imageops.Reference{}.WarpAffine(src, m, r, fill)
	}
	out, err := matToImage(dst, src.Channels)
	if err != nil {
		return imageops.Reference{}.WarpAffine(src, m, r, fill)
	}
	out.Order = src.Order
	return out
}

// WarpAffineMask is WarpAffine on a single-channel matrix.
func (o *Ops) WarpAffineMask(src *imageops.Mask, m [6]float64, r image.Rectangle, fill float32) *imageops.Mask {
	if r.Empty() {
		return imageops.Reference{}.WarpAffineMask(src, m, r, fill)
	}
	srcMat, err := maskToMat(src)
	defer srcMat.Close()
	if err != nil {
		return imageops.Reference{}.WarpAffineMask(src, m, r, fill)
	}
	dst, ok := warp(srcMat, m, r, fill)
	defer dst.Close()
	if !ok {
		return imageops.Reference{}.WarpAffineMask(src, m, r, fill)
	}
	out, err := matToMask(dst)
	if err != nil {
		return imageops.Reference{}.WarpAffineMask(src, m, r, fill)
	}
	return out
}

// warp runs cv::warpAffine over r. ok is false for a singular matrix, which
// OpenCV would otherwise reject.
func warp(src gocv.Mat, m [6]float64, r image.Rectangle, fill float32) (dst gocv.Mat, ok bool) {
	dst = gocv.NewMat()
	if det := m[0]*m[4] - m[1]*m[3]; det > -1e-10 && det < 1e-10 {
		return dst, false
	}
	tm := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64FC1)
	defer tm.Close()
	shifted := m
	shifted[2] -= float64(r.Min.X)
	shifted[5] -= float64(r.Min.Y)
	for i, v := range shifted {
		tm.SetDoubleAt(i/3, i%3, v)
	}
	if fill != 0 {
		src.SubtractFloat(fill)
	}
	gocv.WarpAffineWithParams(src, &dst, tm, r.Size(), gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	if fill != 0 {
		dst.AddFloat(fill)
	}
	return dst, true
}

// Resize calls cv::resize with bilinear interpolation.
func (o *Ops) Resize(img *imageops.Image, width, height int) *imageops.Image {
	if img.Channels > 4 {
		return imageops.Reference{}.Resize(img, width, height)
	}
	src, err := imageToMat(img)
	defer src.Close()
	if err != nil {
		return imageops.Reference{}.Resize(img, width, height)
	}
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	out, err := matToImage(dst, img.Channels)
	if err != nil {
		return imageops.Reference{}.Resize(img, width, height)
	}
	out.Order = img.Order
	return out
}

// ResizeMask is Resize on a single-channel matrix.
func (o *Ops) ResizeMask(m *imageops.Mask, width, height int) *imageops.Mask {
	src, err := maskToMat(m)
	defer src.Close()
	if err != nil {
		return imageops.Reference{}.ResizeMask(m, width, height)
	}
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	out, err := matToMask(dst)
	if err != nil {
		return imageops.Reference{}.ResizeMask(m, width, height)
	}
	return out
}

// FillEllipse draws a filled cv::ellipse on an 8-bit canvas and scales it
// to [0,1].
func (o *Ops) FillEllipse(width, height int, center, axes image.Point) *imageops.Mask {
	if axes.X <= 0 || axes.Y <= 0 || width <= 0 || height <= 0 {
		return imageops.NewMask(max(width, 0), max(height, 0))
	}
	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC1)
	defer canvas.Close()
	gocv.Ellipse(&canvas, center, axes, 0, 0, 360, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	scaled := gocv.NewMat()
	defer scaled.Close()
	canvas.ConvertToWithParams(&scaled, gocv.MatTypeCV32FC1, 1.0/255, 0)
	out, err := matToMask(scaled)
	if err != nil {
		return imageops.Reference{}.FillEllipse(width, height, center, axes)
	}
	return out
}

func scalarMeans(s gocv.Scalar, n int) []float64 {
	vals := []float64{s.Val1, s.Val2, s.Val3, s.Val4}
	return vals[:n]
}

func floatType(channels int) gocv.MatType {
	switch channels {
	case 1:
		return gocv.MatTypeCV32FC1
	case 3:
		return gocv.MatTypeCV32FC3
	case 4:
		return gocv.MatTypeCV32FC4
	default:
		return gocv.MatTypeCV32FC2
	}
}

func maskToMat(m *imageops.Mask) (gocv.Mat, error) {
	return fill(m.Pix, m.Width, m.Height, 1)
}

func imageToMat(img *imageops.Image) (gocv.Mat, error) {
	return fill(img.Pix, img.Width, img.Height, img.Channels)
}

// fill allocates an OpenCV-owned matrix and copies pix into it.
func fill(pix []float32, w, h, channels int) (gocv.Mat, error) {
	mat := gocv.NewMatWithSize(h, w, floatType(channels))
	data, err := mat.DataPtrFloat32()
	if err != nil {
		return mat, fmt.Errorf("mat data: %w", err)
	}
	if len(data) != len(pix) {
		return mat, fmt.Errorf("mat holds %d values, buffer has %d", len(data), len(pix))
	}
	copy(data, pix)
	return mat, nil
}

func matToMask(mat gocv.Mat) (*imageops.Mask, error) {
	data, err := mat.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("mat data: %w", err)
	}
	out := imageops.NewMask(mat.Cols(), mat.Rows())
	copy(out.Pix, data)
	return out, nil
}

func matToImage(mat gocv.Mat, channels int) (*imageops.Image, error) {
	data, err := mat.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("mat data: %w", err)
	}
	out := imageops.NewImage(mat.Cols(), mat.Rows(), channels)
	copy(out.Pix, data)
	return out, nil
}
