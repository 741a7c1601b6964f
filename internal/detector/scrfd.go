// Package detector finds faces and their five-point landmarks with an
// SCRFD-family model.
package detector

import (
	"fmt"
	"math"
	"sort"

	"github.com/dudu/faceswap/internal/config"
	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/geometry"
	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/logger"
)

var featureStrides = []int{8, 16, 32}

// Options tunes decoding.
type Options struct {
	InputSize     int
	ConfThreshold float64
	NMSThreshold  float64
	Anchors       config.AnchorMode
}

// OptionsFromConfig copies the detection settings.
func OptionsFromConfig(c config.DetectionConfig) Options {
	return Options{
		InputSize:     c.InputSize,
		ConfThreshold: float64(c.ConfThreshold),
		NMSThreshold:  float64(c.NMSThreshold),
		Anchors:       c.Anchors,
	}
}

// Detector implements the SCRFD face detector
type Detector struct {
	model *inference.Model
	opts  Options
	ops   imageops.Ops
}

// New wraps a loaded detector model. A nil ops uses imageops.Reference.
func New(model *inference.Model, opts Options, ops imageops.Ops) *Detector {
	if opts.InputSize <= 0 {
		opts.InputSize = 640
	}
	if opts.Anchors == "" {
		opts.Anchors = config.AnchorCorner
	}
	if ops == nil {
		ops = imageops.Reference{}
	}
	return &Detector{model: model, opts: opts, ops: ops}
}

// letterbox records how the model input relates to the source image.
type letterbox struct {
	scale      float64
	padX, padY int
}

func (l letterbox) toSource(x, y float64) (float64, float64) {
	return (x - float64(l.padX)) / l.scale, (y - float64(l.padY)) / l.scale
}

// Detect finds faces in img (HWC, [0,1]). Faces come back sorted by
// confidence with Index set to their position.
func (d *Detector) Detect(img *imageops.Image) ([]Face, error) {
	if d == nil || d.model == nil {
		return nil, faceerr.Errorf(faceerr.KindDetection, "detect", "detector session not loaded")
	}
	if err := img.Validate(); err != nil {
		return nil, faceerr.New(faceerr.KindDetection, "detect", err)
	}
	if img.Channels < 3 {
		return nil, faceerr.Errorf(faceerr.KindDetection, "detect", "need 3 channels, got %d", img.Channels)
	}

	input, lb := d.preprocess(img)
	outputs, err := d.model.RunImage(input)
	if err != nil {
		return nil, err
	}

	faces, err := d.decode(outputs, lb, img.Width, img.Height)
	if err != nil {
		return nil, err
	}
	faces = NMS(faces, d.opts.NMSThreshold)
	logger.Logger().Debug("detection finished", "faces", len(faces), "scale", lb.scale)
	return faces, nil
}

// preprocess letterboxes img into a centred square and normalizes to
// (p*255-127.5)/128 in planar RGB. Padding is the neutral value 0.
func (d *Detector) preprocess(img *imageops.Image) (inference.Tensor, letterbox) {
	size := d.opts.InputSize
	scale := float64(size) / float64(max(img.Width, img.Height))
	nw := min(size, max(1, int(math.Round(float64(img.Width)*scale))))
	nh := min(size, max(1, int(math.Round(float64(img.Height)*scale))))
	lb := letterbox{scale: scale, padX: (size - nw) / 2, padY: (size - nh) / 2}

	resized := d.ops.Resize(img.RGB(), nw, nh)

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < nh; y++ {
		for x := 0; x < nw; x++ {
			o := (y+lb.padY)*size + x + lb.padX
			for c := 0; c < 3; c++ {
				data[c*plane+o] = (resized.At(x, y, c)*255 - 127.5) / 128
			}
		}
	}
	return inference.Tensor{Shape: []int64{1, 3, int64(size), int64(size)}, Data: data}, lb
}

// level holds the three outputs of one stride.
type level struct {
	stride          int
	scores, boxes   []float32
	kps             []float32
	anchorsPerPoint int
}

// groupOutputs sorts the nine outputs into stride levels. Output names are
// not reliable, so tensors are grouped by trailing width (1 score, 4 box,
// 10 landmarks) and ordered by element count: the largest belongs to the
// smallest stride.
func (d *Detector) groupOutputs(outputs []inference.Tensor) ([]level, error) {
	groups := map[int64][]inference.Tensor{}
	for _, t := range outputs {
		w := int64(1)
		if len(t.Shape) > 1 {
			w = t.Shape[len(t.Shape)-1]
		}
		groups[w] = append(groups[w], t)
	}
	for _, w := range []int64{1, 4, 10} {
		if len(groups[w]) != len(featureStrides) {
			return nil, faceerr.Errorf(faceerr.KindInference, "detect",
				"expected %d outputs of width %d, got %d", len(featureStrides), w, len(groups[w]))
		}
		g := groups[w]
		sort.SliceStable(g, func(i, j int) bool { return len(g[i].Data) > len(g[j].Data) })
	}

	levels := make([]level, len(featureStrides))
	for i, stride := range featureStrides {
		fm := d.opts.InputSize / stride
		scores := groups[1][i].Data
		positions := fm * fm
		if positions == 0 || len(scores)%positions != 0 || len(scores) < positions {
			return nil, faceerr.Errorf(faceerr.KindInference, "detect",
				"stride %d: %d scores do not fit a %dx%d grid", stride, len(scores), fm, fm)
		}
		n := len(scores)
		if len(groups[4][i].Data) != n*4 || len(groups[10][i].Data) != n*10 {
			return nil, faceerr.Errorf(faceerr.KindInference, "detect",
				"stride %d: box/landmark outputs do not match %d anchors", stride, n)
		}
		levels[i] = level{
			stride:          stride,
			scores:          scores,
			boxes:           groups[4][i].Data,
			kps:             groups[10][i].Data,
			anchorsPerPoint: n / positions,
		}
	}
	return levels, nil
}

func (d *Detector) decode(outputs []inference.Tensor, lb letterbox, width, height int) ([]Face, error) {
	levels, err := d.groupOutputs(outputs)
	if err != nil {
		return nil, err
	}

	offset := 0.0
	if d.opts.Anchors == config.AnchorCenter {
		offset = 0.5
	}
	w, h := float64(width), float64(height)

	var faces []Face
	for _, lv := range levels {
		fm := d.opts.InputSize / lv.stride
		stride := float64(lv.stride)
		for idx, raw := range lv.scores {
			score := float64(raw)
			if score < d.opts.ConfThreshold {
				continue
			}
			pos := idx / lv.anchorsPerPoint
			ax := (float64(pos%fm) + offset) * stride
			ay := (float64(pos/fm) + offset) * stride

			b := lv.boxes[idx*4 : idx*4+4]
			x1, y1 := lb.toSource(ax-float64(b[0])*stride, ay-float64(b[1])*stride)
			x2, y2 := lb.toSource(ax+float64(b[2])*stride, ay+float64(b[3])*stride)
			if x2 <= x1 || y2 <= y1 {
				continue
			}
			x1, y1 = clamp(x1, 0, w-1), clamp(y1, 0, h-1)
			x2, y2 = clamp(x2, 0, w-1), clamp(y2, 0, h-1)
			if x2 <= x1 || y2 <= y1 {
				continue
			}

			var lm [5]geometry.Point
			k := lv.kps[idx*10 : idx*10+10]
			for p := range lm {
				lx, ly := lb.toSource(ax+float64(k[2*p])*stride, ay+float64(k[2*p+1])*stride)
				lm[p] = geometry.Point{X: clamp(lx, 0, w-1), Y: clamp(ly, 0, h-1)}
			}

			faces = append(faces, Face{
				Box: Box{
					X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1,
					Confidence: clamp(score, 0, 1),
				},
				Landmarks: lm,
			})
		}
	}
	return faces, nil
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// String is used in debug logs and the CLI.
func (f Face) String() string {
	return fmt.Sprintf("#%d %.0fx%.0f at (%.0f,%.0f) conf=%.3f",
		f.Index, f.Box.Width, f.Box.Height, f.Box.X, f.Box.Y, f.Box.Confidence)
}
