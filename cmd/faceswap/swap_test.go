package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/imageops"
)

func testFaces() []detector.Face {
	return []detector.Face{
		{Box: detector.Box{Width: 40, Height: 40, Confidence: 0.9}, Index: 0},
		{Box: detector.Box{Width: 90, Height: 80, Confidence: 0.7}, Index: 1},
		{Box: detector.Box{Width: 20, Height: 20, Confidence: 0.8}, Index: 2},
	}
}

func TestPickFace(t *testing.T) {
	f, err := pickFace(testFaces(), -1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Index)

	f, err = pickFace(testFaces(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Index)

	_, err = pickFace(testFaces(), 7)
	assert.Error(t, err)
	_, err = pickFace(nil, -1)
	assert.Error(t, err)
}

func TestSelectFaces(t *testing.T) {
	all, err := selectFaces(testFaces(), "all")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := selectFaces(testFaces(), "2, 0")
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, 2, some[0].Index)
	assert.Equal(t, 0, some[1].Index)

	_, err = selectFaces(testFaces(), "x")
	assert.Error(t, err)
	_, err = selectFaces(nil, "all")
	assert.Error(t, err)
}

func TestImageRoundTrip(t *testing.T) {
	img := imageops.NewImage(4, 3, 3)
	for i := range img.Pix {
		img.Pix[i] = float32(i%5) / 4
	}
	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, saveImage(path, img))

	got, err := loadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Width)
	assert.Equal(t, 3, got.Height)
	for i := range img.Pix {
		assert.InDelta(t, img.Pix[i], got.Pix[i], 1.0/255)
	}
}
