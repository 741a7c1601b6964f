// Package parser segments faces into regions and turns the face labels into
// blend masks.
package parser

import (
	"image"
	"math"

	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/geometry"
	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/logger"
)

// InputSize is the segmentation model's square input.
const InputSize = 512

// CelebAMask-HQ label ids.
const (
	LabelBackground = 0
	LabelSkin       = 1
	LabelLeftBrow   = 2
	LabelRightBrow  = 3
	LabelLeftEye    = 4
	LabelRightEye   = 5
	LabelGlasses    = 6
	LabelLeftEar    = 7
	LabelRightEar   = 8
	LabelEarring    = 9
	LabelNose       = 10
	LabelMouth      = 11
	LabelUpperLip   = 12
	LabelLowerLip   = 13
	LabelNeck       = 14
	LabelNecklace   = 15
	LabelCloth      = 16
	LabelHair       = 17
	LabelHat        = 18
)

// faceLabels are the regions a swap may overwrite.
var faceLabels = map[uint8]bool{
	LabelSkin:      true,
	LabelLeftBrow:  true,
	LabelRightBrow: true,
	LabelLeftEye:   true,
	LabelRightEye:  true,
	LabelNose:      true,
	LabelMouth:     true,
	LabelUpperLip:  true,
	LabelLowerLip:  true,
}

var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Parser produces face-region masks. Without a model it falls back to an
// ellipse fitted to the landmarks.
type Parser struct {
	model *inference.Model
	ops   imageops.Ops
}

// New returns a parser. model may be nil.
func New(model *inference.Model, ops imageops.Ops) *Parser {
	if ops == nil {
		ops = imageops.Reference{}
	}
	return &Parser{model: model, ops: ops}
}

// HasModel reports whether segmentation runs through a model.
func (p *Parser) HasModel() bool { return p.model != nil }

// Labels runs the segmentation model and returns the per-pixel argmax label
// at InputSize resolution.
func (p *Parser) Labels(img *imageops.Image) ([]uint8, error) {
	if p.model == nil {
		return nil, faceerr.Errorf(faceerr.KindInference, "parse", "parser model not loaded")
	}
	resized := p.ops.Resize(img.RGB(), InputSize, InputSize)
	for i := range resized.Pix {
		c := i % 3
		resized.Pix[i] = (resized.Pix[i] - imagenetMean[c]) / imagenetStd[c]
	}

	outputs, err := p.model.RunImage(inference.Tensor{
		Shape: []int64{1, 3, InputSize, InputSize},
		Data:  resized.CHW(),
	})
	if err != nil {
		return nil, err
	}

	logits := outputs[0].Data
	plane := InputSize * InputSize
	if len(logits) == 0 || len(logits)%plane != 0 {
		return nil, faceerr.Errorf(faceerr.KindInference, "parse",
			"output shape %v does not hold %dx%d planes", outputs[0].Shape, InputSize, InputSize)
	}
	classes := len(logits) / plane
	labels := make([]uint8, plane)
	for i := 0; i < plane; i++ {
		best, bestV := 0, logits[i]
		for c := 1; c < classes; c++ {
			if v := logits[c*plane+i]; v > bestV {
				best, bestV = c, v
			}
		}
		labels[i] = uint8(best)
	}
	return labels, nil
}

// Parse returns a binary mask (0 or 1) at img's resolution marking the
// face-region labels.
func (p *Parser) Parse(img *imageops.Image) (*imageops.Mask, error) {
	labels, err := p.Labels(img)
	if err != nil {
		return nil, err
	}
	labels = imageops.ResizeLabels(labels, InputSize, InputSize, img.Width, img.Height)
	mask := imageops.NewMask(img.Width, img.Height)
	for i, l := range labels {
		if faceLabels[l] {
			mask.Pix[i] = 1
		}
	}
	return mask, nil
}

// binary returns the parsed face mask, or the landmark ellipse when there is
// no model or the model found no face pixels.
func (p *Parser) binary(img *imageops.Image, landmarks [5]geometry.Point) (*imageops.Mask, error) {
	if p.model == nil {
		return EllipseMask(p.ops, img.Width, img.Height, landmarks), nil
	}
	mask, err := p.Parse(img)
	if err != nil {
		return nil, err
	}
	if mask.Count(0.5) == 0 {
		logger.Logger().Debug("parser found no face pixels, using ellipse mask")
		return EllipseMask(p.ops, img.Width, img.Height, landmarks), nil
	}
	return mask, nil
}

// ErosionRadius scales the inward pull of the face mask with the detected
// face size, clamped to [1,4] px.
func ErosionRadius(faceSize float64) int {
	r := int(math.Round(faceSize / 100))
	return min(max(r, 1), 4)
}

// Feathering used on the aligned-canvas face mask.
const (
	FaceFeatherKernel = 5
	FaceFeatherSigma  = 1.5
)

// FaceMask builds the compositing mask for an aligned face: parse, erode
// away from hair and background, then feather. landmarks are in aligned
// space; faceSize is the detection's size in the source image.
func (p *Parser) FaceMask(aligned *imageops.Image, landmarks [5]geometry.Point, faceSize float64) (*imageops.Mask, error) {
	mask, err := p.binary(aligned, landmarks)
	if err != nil {
		return nil, err
	}
	r := ErosionRadius(faceSize)
	mask = p.ops.Erode(mask, 2*r+1)
	return p.ops.GaussianBlur(mask, FaceFeatherKernel, FaceFeatherSigma), nil
}

// EnhancerFeatherKernel returns the feather kernel for a crop of the given
// width: about 1/32 of the side, odd, at least 7.
func EnhancerFeatherKernel(width int) int {
	return imageops.OddKernel(max(width/32, 7))
}

// EnhancerMask builds the blend mask for an enhancer crop. landmarks are in
// crop coordinates.
func (p *Parser) EnhancerMask(crop *imageops.Image, landmarks [5]geometry.Point) (*imageops.Mask, error) {
	mask, err := p.binary(crop, landmarks)
	if err != nil {
		return nil, err
	}
	return p.ops.GaussianBlur(mask, EnhancerFeatherKernel(crop.Width), 0), nil
}

// EllipseMask draws a filled axis-aligned ellipse centred on the landmark
// mean, 2.5 eye distances wide and 3 tall. Centre and semi-axes are rounded
// to whole pixels.
func EllipseMask(ops imageops.Ops, width, height int, landmarks [5]geometry.Point) *imageops.Mask {
	var cx, cy float64
	for _, p := range landmarks {
		cx += p.X
		cy += p.Y
	}
	cx /= 5
	cy /= 5

	eyeDist := math.Hypot(landmarks[1].X-landmarks[0].X, landmarks[1].Y-landmarks[0].Y)
	rx := eyeDist * 2.5 / 2
	ry := eyeDist * 3.0 / 2
	if rx < 1 || ry < 1 {
		return imageops.NewMask(width, height)
	}
	center := image.Pt(int(math.Round(cx)), int(math.Round(cy)))
	axes := image.Pt(int(math.Round(rx)), int(math.Round(ry)))
	return ops.FillEllipse(width, height, center, axes)
}
