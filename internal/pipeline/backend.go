package pipeline

import (
	"github.com/dudu/faceswap/internal/config"
	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/imageops/cvops"
)

// selectOps picks the image kernel backend. Auto follows the inference
// backend: OpenCV with an accelerated provider, the pure-Go reference on CPU.
func selectOps(mode config.ImageOps, accelerated bool) imageops.Ops {
	switch mode {
	case config.ImageOpsReference:
		return imageops.Reference{}
	case config.ImageOpsAuto:
		if !accelerated {
			return imageops.Reference{}
		}
	}
	return cvops.New()
}
