package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dudu/faceswap/internal/config"
)

func TestSelectOps(t *testing.T) {
	tests := []struct {
		mode        config.ImageOps
		accelerated bool
		want        string
	}{
		{config.ImageOpsOpenCV, false, "opencv"},
		{config.ImageOpsReference, true, "reference"},
		{config.ImageOpsAuto, true, "opencv"},
		{config.ImageOpsAuto, false, "reference"},
	}
	for _, tt := range tests {
		ops := selectOps(tt.mode, tt.accelerated)
		assert.Equal(t, tt.want, ops.Name(), "mode %s accelerated %v", tt.mode, tt.accelerated)
		assert.NoError(t, ops.Close())
	}
}
