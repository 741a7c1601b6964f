// Package compositor pastes a synthesized aligned face back into the full
// image using a presence mask, a swap-difference map and the parsing mask.
package compositor

import (
	"image"
	"math"

	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/geometry"
	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/logger"
)

// Thresholds on the 0-255 presence and difference maps.
const (
	presenceThreshold = 20
	diffThreshold     = 10
	diffBorder        = 2
	diffDilateKernel  = 3
	diffBlurKernel    = 11
)

// DefaultColorMatchLimit bounds the per-channel colour gain to [0.8, 1.2].
const DefaultColorMatchLimit = 0.2

// Input is one face to composite. Swapped, Aligned and Mask share the
// aligned canvas; Transform maps the full image onto that canvas.
type Input struct {
	Swapped   *imageops.Image
	Aligned   *imageops.Image
	Mask      *imageops.Mask
	Transform geometry.Affine
}

// Kernels are the mask kernel sizes for one face.
type Kernels struct {
	Erode     int
	Blur      int
	DiffBlur  int
	DiffGrow  int
	MaskSize  float64
	BlurSigma float64
}

// KernelsFor derives kernel sizes from the face's size in the full image.
func KernelsFor(maskSize float64) Kernels {
	ms := int(maskSize)
	blur := 2*max(ms/20, 5) + 1
	return Kernels{
		Erode:     imageops.OddKernel(max(ms/10, 10)),
		Blur:      blur,
		DiffBlur:  diffBlurKernel,
		DiffGrow:  diffDilateKernel,
		MaskSize:  maskSize,
		BlurSigma: imageops.GaussianSigma(blur),
	}
}

// Margin is the largest kernel, used to pad the blend region.
func (k Kernels) Margin() int {
	return max(k.Erode, k.Blur, k.DiffBlur, k.DiffGrow)
}

// Layer is a prepared face: warped pixels and alpha over Region of the full
// image.
type Layer struct {
	Region image.Rectangle
	Pixels *imageops.Image
	Alpha  *imageops.Mask
}

// Compositor blends faces with a pluggable image-ops backend.
type Compositor struct {
	ops             imageops.Ops
	colorMatchLimit float32
}

// New returns a compositor. A nil ops uses imageops.Reference and a negative
// limit uses DefaultColorMatchLimit.
func New(ops imageops.Ops, colorMatchLimit float32) *Compositor {
	if ops == nil {
		ops = imageops.Reference{}
	}
	if colorMatchLimit < 0 {
		colorMatchLimit = DefaultColorMatchLimit
	}
	return &Compositor{ops: ops, colorMatchLimit: colorMatchLimit}
}

func (c *Compositor) validate(in Input) error {
	if in.Swapped == nil || in.Aligned == nil || in.Mask == nil {
		return faceerr.Errorf(faceerr.KindCompositing, "blend", "missing swapped face, aligned face or mask")
	}
	if err := in.Swapped.Validate(); err != nil {
		return faceerr.New(faceerr.KindCompositing, "blend", err)
	}
	w, h := in.Swapped.Width, in.Swapped.Height
	if in.Aligned.Width != w || in.Aligned.Height != h || in.Aligned.Channels != in.Swapped.Channels {
		return faceerr.Errorf(faceerr.KindCompositing, "blend",
			"aligned face %dx%dx%d does not match swapped face %dx%dx%d",
			in.Aligned.Width, in.Aligned.Height, in.Aligned.Channels, w, h, in.Swapped.Channels)
	}
	if in.Mask.Width != w || in.Mask.Height != h || len(in.Mask.Pix) != w*h {
		return faceerr.Errorf(faceerr.KindCompositing, "blend",
			"mask %dx%d does not match aligned canvas %dx%d", in.Mask.Width, in.Mask.Height, w, h)
	}
	return nil
}

// diffMap is the mean absolute channel difference scaled to 0-255, zeroed in
// a border of diffBorder pixels.
func diffMap(a, b *imageops.Image) *imageops.Mask {
	m := imageops.NewMask(a.Width, a.Height)
	ch := a.Channels
	for y := diffBorder; y < a.Height-diffBorder; y++ {
		for x := diffBorder; x < a.Width-diffBorder; x++ {
			o := (y*a.Width + x) * ch
			var sum float32
			for k := 0; k < ch; k++ {
				sum += float32(math.Abs(float64(a.Pix[o+k] - b.Pix[o+k])))
			}
			m.Pix[y*a.Width+x] = sum / float32(ch) * 255
		}
	}
	return m
}

// Prepare computes the warped face and its alpha map for a width x height
// image.
func (c *Compositor) Prepare(in Input, width, height int) (*Layer, error) {
	if err := c.validate(in); err != nil {
		return nil, err
	}
	inv, err := in.Transform.Invert()
	if err != nil {
		return nil, err
	}
	size := in.Swapped.Width
	k := KernelsFor(float64(size) * inv.Scale())

	region := geometry.Bounds(inv, in.Swapped.Width, in.Swapped.Height).
		Inset(-k.Margin()).
		Intersect(image.Rect(0, 0, width, height))
	if region.Empty() {
		return &Layer{Region: image.Rectangle{}}, nil
	}

	diff := diffMap(in.Swapped, in.Aligned)
	matched := c.ops.ColorMatch(in.Swapped, in.Aligned, in.Mask, c.colorMatchLimit)

	// The canvas goes back to image space through the inverse transform.
	pixels, err := geometry.WarpRegion(c.ops, matched, inv, region, 0)
	if err != nil {
		return nil, err
	}
	presence, err := geometry.WarpMaskRegion(c.ops, imageops.Filled(in.Swapped.Width, in.Swapped.Height, 255), inv, region, 0)
	if err != nil {
		return nil, err
	}
	diffW, err := geometry.WarpMaskRegion(c.ops, diff, inv, region, 0)
	if err != nil {
		return nil, err
	}
	parse, err := geometry.WarpMaskRegion(c.ops, in.Mask, inv, region, 0)
	if err != nil {
		return nil, err
	}

	presence.Threshold(presenceThreshold, 255)
	diffW.Threshold(diffThreshold, 255)
	presence = c.ops.Erode(presence, k.Erode)
	diffW = c.ops.Dilate(diffW, k.DiffGrow)
	presence = c.ops.GaussianBlur(presence, k.Blur, k.BlurSigma)
	diffW = c.ops.GaussianBlur(diffW, k.DiffBlur, 0)

	alpha := imageops.NewMask(region.Dx(), region.Dy())
	for i := range alpha.Pix {
		a := presence.Pix[i] / 255 * diffW.Pix[i] / 255 * parse.Pix[i]
		alpha.Pix[i] = min(max(a, 0), 1)
	}

	logger.Logger().Debug("composite prepared",
		"region", region.String(), "mask_size", k.MaskSize, "erode", k.Erode, "blur", k.Blur, "ops", c.ops.Name())
	return &Layer{Region: region, Pixels: pixels, Alpha: alpha}, nil
}

// Apply alpha-blends the layer into dst. Pixels outside Region, and pixels
// with zero alpha, are left untouched.
func (l *Layer) Apply(dst *imageops.Image) {
	if l.Region.Empty() {
		return
	}
	ch := dst.Channels
	rw := l.Region.Dx()
	for y := l.Region.Min.Y; y < l.Region.Max.Y; y++ {
		for x := l.Region.Min.X; x < l.Region.Max.X; x++ {
			li := (y-l.Region.Min.Y)*rw + (x - l.Region.Min.X)
			a := l.Alpha.Pix[li]
			if a <= 0 {
				continue
			}
			o := (y*dst.Width + x) * ch
			for k := 0; k < ch; k++ {
				v := a*l.Pixels.Pix[li*ch+k] + (1-a)*dst.Pix[o+k]
				dst.Pix[o+k] = min(max(v, 0), 1)
			}
		}
	}
}

// Blend composites one face into dst in place and returns the region it may
// have touched. dst must be RGB with the aligned faces' channel count.
func (c *Compositor) Blend(dst *imageops.Image, in Input) (image.Rectangle, error) {
	if err := dst.Validate(); err != nil {
		return image.Rectangle{}, faceerr.New(faceerr.KindCompositing, "blend", err)
	}
	if in.Swapped != nil && dst.Channels != in.Swapped.Channels {
		return image.Rectangle{}, faceerr.Errorf(faceerr.KindCompositing, "blend",
			"image has %d channels, face has %d", dst.Channels, in.Swapped.Channels)
	}
	layer, err := c.Prepare(in, dst.Width, dst.Height)
	if err != nil {
		return image.Rectangle{}, err
	}
	layer.Apply(dst)
	return layer.Region, nil
}
