// Package enhancer restores swapped faces with a GFPGAN-style model and
// blends the result back with feathered edges.
package enhancer

import (
	"image"
	"math"

	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/geometry"
	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/parser"
)

const (
	// DefaultInputSize is the restoration model's square input.
	DefaultInputSize = 512
	// cropPadding widens the detection box on every side.
	cropPadding = 0.1
)

// Enhancer performs face enhancement/restoration
type Enhancer struct {
	model     *inference.Model
	parser    *parser.Parser
	ops       imageops.Ops
	inputSize int
}

// New wraps a loaded restoration model. p supplies the blend mask; with a
// nil parser only the crop-edge feather is applied. A nil ops uses
// imageops.Reference.
func New(model *inference.Model, p *parser.Parser, inputSize int, ops imageops.Ops) *Enhancer {
	if inputSize <= 0 {
		inputSize = DefaultInputSize
	}
	if ops == nil {
		ops = imageops.Reference{}
	}
	return &Enhancer{model: model, parser: p, ops: ops, inputSize: inputSize}
}

// CropRect returns the square around box padded by 10% per side. It may
// extend past the image; the part outside is read as black.
func CropRect(box detector.Box) image.Rectangle {
	side := int(math.Ceil(math.Max(box.Width, box.Height) * (1 + 2*cropPadding)))
	c := box.Center()
	x0 := int(math.Floor(c.X - float64(side)/2))
	y0 := int(math.Floor(c.Y - float64(side)/2))
	return image.Rect(x0, y0, x0+side, y0+side)
}

// EdgeFeather returns a mask that ramps from 0 at the crop border to 1 at
// ramp pixels inside it.
func EdgeFeather(width, height, ramp int) *imageops.Mask {
	m := imageops.NewMask(width, height)
	ramp = max(ramp, 1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			d := min(x, y, width-1-x, height-1-y)
			m.Pix[y*width+x] = min(float32(d)/float32(ramp), 1)
		}
	}
	return m
}

// Enhance restores the face in dst (RGB, [0,1]) in place and returns the
// rectangle it touched, which is the crop square clipped to dst.
func (e *Enhancer) Enhance(dst *imageops.Image, face detector.Face) (image.Rectangle, error) {
	if e == nil || e.model == nil {
		return image.Rectangle{}, faceerr.Errorf(faceerr.KindInference, "enhance", "enhancer not loaded")
	}
	r := CropRect(face.Box)
	touched := r.Intersect(dst.Bounds())
	if touched.Dx() < 2 || touched.Dy() < 2 {
		return image.Rectangle{}, nil
	}
	// An identity warp over r copies the square, padding with black where it
	// leaves the image, so the model always sees an undistorted face.
	crop := e.ops.WarpAffine(dst, geometry.Identity(), r, 0)

	restored, err := e.restore(crop)
	if err != nil {
		return image.Rectangle{}, err
	}

	alpha, err := e.mask(crop, face, r)
	if err != nil {
		return image.Rectangle{}, err
	}

	ch := dst.Channels
	for y := touched.Min.Y; y < touched.Max.Y; y++ {
		for x := touched.Min.X; x < touched.Max.X; x++ {
			li := (y-r.Min.Y)*r.Dx() + x - r.Min.X
			a := alpha.Pix[li]
			if a <= 0 {
				continue
			}
			o := (y*dst.Width + x) * ch
			s := li * ch
			for k := 0; k < ch; k++ {
				v := a*restored.Pix[s+k] + (1-a)*dst.Pix[o+k]
				dst.Pix[o+k] = min(max(v, 0), 1)
			}
		}
	}
	return touched, nil
}

// restore runs the model on crop and returns the result at crop size.
func (e *Enhancer) restore(crop *imageops.Image) (*imageops.Image, error) {
	size := e.inputSize
	resized := e.ops.Resize(crop, size, size)
	for i, v := range resized.Pix {
		resized.Pix[i] = v*2 - 1
	}
	outputs, err := e.model.RunImage(inference.Tensor{
		Shape: []int64{1, 3, int64(size), int64(size)},
		Data:  resized.CHW(),
	})
	if err != nil {
		return nil, err
	}
	out := outputs[0]
	if len(out.Data) != 3*size*size {
		return nil, faceerr.Errorf(faceerr.KindInference, "enhance",
			"output shape %v, want [1 3 %d %d]", out.Shape, size, size)
	}
	for i, v := range out.Data {
		out.Data[i] = (v + 1) / 2
	}
	img, err := imageops.FromCHW(out.Data, size, size, 3)
	if err != nil {
		return nil, faceerr.New(faceerr.KindInference, "enhance", err)
	}
	img.Clamp01()
	return e.ops.Resize(img, crop.Width, crop.Height), nil
}

// mask combines the parser's face mask for the crop with a ramp at the crop
// border.
func (e *Enhancer) mask(crop *imageops.Image, face detector.Face, r image.Rectangle) (*imageops.Mask, error) {
	edge := EdgeFeather(crop.Width, crop.Height, max(crop.Width, crop.Height)/10)
	if e.parser == nil {
		return edge, nil
	}
	var lm [5]geometry.Point
	for i, p := range face.Landmarks {
		lm[i] = geometry.Point{X: p.X - float64(r.Min.X), Y: p.Y - float64(r.Min.Y)}
	}
	m, err := e.parser.EnhancerMask(crop, lm)
	if err != nil {
		return nil, err
	}
	if err := m.Mul(edge); err != nil {
		return nil, faceerr.New(faceerr.KindCompositing, "enhance", err)
	}
	return m, nil
}
