package main

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"
	"golang.org/x/image/draw"

	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/logger"
)

// loadImage decodes a JPEG, PNG or WebP file into an RGB [0,1] buffer.
func loadImage(path string) (*imageops.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	b := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)

	img := imageops.NewImage(b.Dx(), b.Dy(), 3)
	for i, j := 0, 0; i < len(rgba.Pix); i, j = i+4, j+3 {
		img.Pix[j] = float32(rgba.Pix[i]) / 255
		img.Pix[j+1] = float32(rgba.Pix[i+1]) / 255
		img.Pix[j+2] = float32(rgba.Pix[i+2]) / 255
	}
	logger.Logger().Debug("image loaded", "path", path, "format", format, "width", img.Width, "height", img.Height)
	return img, nil
}

// saveImage encodes img by the file extension: .jpg/.jpeg or PNG otherwise.
func saveImage(path string, img *imageops.Image) error {
	rgb := img.RGB()
	out := image.NewRGBA(image.Rect(0, 0, rgb.Width, rgb.Height))
	for i, j := 0, 0; j < len(rgb.Pix); i, j = i+4, j+3 {
		out.Pix[i] = toByte(rgb.Pix[j])
		out.Pix[i+1] = toByte(rgb.Pix[j+1])
		out.Pix[i+2] = toByte(rgb.Pix[j+2])
		out.Pix[i+3] = 255
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, out, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(f, out)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func toByte(v float32) uint8 {
	return uint8(min(max(v, 0), 1)*255 + 0.5)
}
