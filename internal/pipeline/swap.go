package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dudu/faceswap/internal/compositor"
	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/geometry"
	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/logger"
	"github.com/dudu/faceswap/internal/swapper"
)

// Timing holds per-stage durations of the last Swap call.
type Timing struct {
	Embedding time.Duration
	Swap      time.Duration
	Parse     time.Duration
	Blend     time.Duration
	Enhance   time.Duration
	Total     time.Duration
}

// SwapRequest carries the identity face and the faces to replace.
type SwapRequest struct {
	Source          *imageops.Image
	SourceLandmarks [5]geometry.Point
	Target          *imageops.Image
	TargetFaces     []detector.Face
}

// Detect finds faces in img.
func (e *Engine) Detect(img *imageops.Image) ([]detector.Face, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if err := e.ready("detect"); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, faceerr.Errorf(faceerr.KindDetection, "detect", "nil image")
	}

	e.setState(StateDetecting)
	defer e.setState(StateReady)

	start := time.Now()
	faces, err := e.det.Detect(img)
	if err != nil {
		return nil, faceerr.Classify(faceerr.KindDetection, "detect", err)
	}
	logger.Logger().Debug("detect", "faces", len(faces), "elapsed", time.Since(start))
	return faces, nil
}

// Embed returns the identity of the face described by landmarks.
func (e *Engine) Embed(img *imageops.Image, landmarks [5]geometry.Point) (*swapper.Identity, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if err := e.ready("embed"); err != nil {
		return nil, err
	}
	if err := img.Validate(); err != nil {
		return nil, faceerr.New(faceerr.KindDetection, "embed", err)
	}
	e.setState(StateEmbedding)
	defer e.setState(StateReady)
	return e.ext.Extract(img, landmarks)
}

// Swap replaces every target face with the source identity and returns a new
// RGB image. Alignment and masks are always taken from the untouched target;
// only the blend writes into the running result. ctx is checked between
// faces.
func (e *Engine) Swap(ctx context.Context, req SwapRequest) (*imageops.Image, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if err := e.ready("swap"); err != nil {
		return nil, err
	}
	if req.Source == nil || req.Target == nil {
		return nil, faceerr.Errorf(faceerr.KindDetection, "swap", "source and target images are required")
	}
	if err := req.Source.Validate(); err != nil {
		return nil, faceerr.New(faceerr.KindDetection, "swap", fmt.Errorf("source: %w", err))
	}
	if err := req.Target.Validate(); err != nil {
		return nil, faceerr.New(faceerr.KindDetection, "swap", fmt.Errorf("target: %w", err))
	}
	if len(req.TargetFaces) == 0 {
		return nil, faceerr.Errorf(faceerr.KindDetection, "swap", "no target faces selected")
	}
	defer e.setState(StateReady)

	var timing Timing
	total := time.Now()

	e.setState(StateEmbedding)
	e.phase(PhaseEmbed)
	start := time.Now()
	id, err := e.ext.Extract(req.Source, req.SourceLandmarks)
	if err != nil {
		return nil, err
	}
	timing.Embedding = time.Since(start)

	original := req.Target.RGB()
	result := original.Clone()

	e.setState(StateSwapping)
	e.phase(PhaseSwap)
	n := int64(len(req.TargetFaces))
	for i, face := range req.TargetFaces {
		if err := ctx.Err(); err != nil {
			return nil, faceerr.New(faceerr.KindState, "swap", err)
		}
		if err := e.swapFace(original, result, face, id.Latent, &timing); err != nil {
			return nil, err
		}
		e.emit(Event{Kind: EventProgress, Phase: PhaseSwap, Current: int64(i + 1), Total: n})
	}

	if e.enhance && e.enh != nil {
		e.setState(StateEnhancing)
		e.phase(PhaseEnhance)
		start = time.Now()
		for i, face := range req.TargetFaces {
			if err := ctx.Err(); err != nil {
				return nil, faceerr.New(faceerr.KindState, "enhance", err)
			}
			if _, err := e.enh.Enhance(result, face); err != nil {
				return nil, err
			}
			e.emit(Event{Kind: EventProgress, Phase: PhaseEnhance, Current: int64(i + 1), Total: n})
		}
		timing.Enhance = time.Since(start)
	}

	timing.Total = time.Since(total)
	e.lastTiming = timing
	e.phase(PhaseDone)
	logger.Logger().Debug("swap",
		"faces", n,
		"embedding", timing.Embedding,
		"swap", timing.Swap,
		"parse", timing.Parse,
		"blend", timing.Blend,
		"enhance", timing.Enhance,
		"total", timing.Total)
	return result, nil
}

// swapFace synthesizes one face from original and blends it into result.
func (e *Engine) swapFace(original, result *imageops.Image, face detector.Face, latent swapper.Embedding, timing *Timing) error {
	start := time.Now()
	res, err := e.gen.Swap(original, face.Landmarks, latent)
	if err != nil {
		return err
	}
	timing.Swap += time.Since(start)

	start = time.Now()
	var aligned [5]geometry.Point
	copy(aligned[:], res.Transform.ApplyAll(face.Landmarks[:]))
	mask, err := e.par.FaceMask(res.Aligned, aligned, face.Size())
	if err != nil {
		return err
	}
	timing.Parse += time.Since(start)

	start = time.Now()
	_, err = e.comp.Blend(result, compositor.Input{
		Swapped:   res.Swapped,
		Aligned:   res.Aligned,
		Mask:      mask,
		Transform: res.Transform,
	})
	if err != nil {
		return err
	}
	timing.Blend += time.Since(start)
	return nil
}

// LastTiming returns the stage durations of the most recent successful Swap.
func (e *Engine) LastTiming() Timing {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.lastTiming
}
