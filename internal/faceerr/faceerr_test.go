package faceerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("failed to init: %w", New(KindModelDownload, "download", io.ErrUnexpectedEOF))

	assert.True(t, errors.Is(err, ErrModelDownload))
	assert.False(t, errors.Is(err, ErrModelLoad))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, KindModelDownload, KindOf(err))
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"full", New(KindAlignment, "invert", errors.New("singular")), "alignment: invert: singular"},
		{"no op", New(KindInference, "", errors.New("shape")), "inference: shape"},
		{"bare", ErrDisposed, "disposed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestClassifyKeepsExistingKind(t *testing.T) {
	inner := New(KindAlignment, "estimate", errors.New("degenerate"))
	assert.Equal(t, KindAlignment, KindOf(Classify(KindInference, "swap", inner)))
	assert.Equal(t, KindInference, KindOf(Classify(KindInference, "swap", errors.New("x"))))
	assert.NoError(t, Classify(KindInference, "swap", nil))
}
