// Package imageops holds the pixel buffers shared by every pipeline stage and
// the mask kernels used by blending.
package imageops

import (
	"fmt"
	"image"
)

// ChannelOrder tags the colour order of a buffer.
type ChannelOrder int

const (
	RGB ChannelOrder = iota
	BGR
)

func (o ChannelOrder) String() string {
	if o == BGR {
		return "BGR"
	}
	return "RGB"
}

// Image is a packed HWC float32 buffer. Values are in [0,1] unless a stage
// documents otherwise.
type Image struct {
	Width    int
	Height   int
	Channels int
	Order    ChannelOrder
	Pix      []float32
}

// NewImage allocates a zeroed image.
func NewImage(width, height, channels int) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]float32, width*height*channels),
	}
}

// FromPix wraps an existing HWC buffer after checking its length.
func FromPix(pix []float32, width, height, channels int) (*Image, error) {
	img := &Image{Width: width, Height: height, Channels: channels, Pix: pix}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// Validate checks dimensions against the buffer length.
func (m *Image) Validate() error {
	if m == nil {
		return fmt.Errorf("nil image")
	}
	if m.Width <= 0 || m.Height <= 0 || m.Channels <= 0 {
		return fmt.Errorf("invalid image size %dx%dx%d", m.Width, m.Height, m.Channels)
	}
	if len(m.Pix) != m.Width*m.Height*m.Channels {
		return fmt.Errorf("image %dx%dx%d needs %d values, got %d",
			m.Width, m.Height, m.Channels, m.Width*m.Height*m.Channels, len(m.Pix))
	}
	return nil
}

// At returns channel c of pixel (x, y).
func (m *Image) At(x, y, c int) float32 {
	return m.Pix[(y*m.Width+x)*m.Channels+c]
}

// Set writes channel c of pixel (x, y).
func (m *Image) Set(x, y, c int, v float32) {
	m.Pix[(y*m.Width+x)*m.Channels+c] = v
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	c := *m
	c.Pix = append([]float32(nil), m.Pix...)
	return &c
}

// Bounds returns the image rectangle.
func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// CHW returns the planar (channel-major) layout.
func (m *Image) CHW() []float32 {
	plane := m.Width * m.Height
	out := make([]float32, plane*m.Channels)
	for i := 0; i < plane; i++ {
		for c := 0; c < m.Channels; c++ {
			out[c*plane+i] = m.Pix[i*m.Channels+c]
		}
	}
	return out
}

// FromCHW packs a planar buffer into an HWC image.
func FromCHW(data []float32, width, height, channels int) (*Image, error) {
	plane := width * height
	if len(data) < plane*channels {
		return nil, fmt.Errorf("planar buffer %dx%dx%d needs %d values, got %d",
			channels, height, width, plane*channels, len(data))
	}
	img := NewImage(width, height, channels)
	for i := 0; i < plane; i++ {
		for c := 0; c < channels; c++ {
			img.Pix[i*channels+c] = data[c*plane+i]
		}
	}
	return img, nil
}

// SwapRB returns a copy with the first and third channels exchanged.
func (m *Image) SwapRB() *Image {
	out := m.Clone()
	if m.Channels < 3 {
		return out
	}
	for i := 0; i < len(out.Pix); i += m.Channels {
		out.Pix[i], out.Pix[i+2] = out.Pix[i+2], out.Pix[i]
	}
	if m.Order == RGB {
		out.Order = BGR
	} else {
		out.Order = RGB
	}
	return out
}

// Clamp01 clamps every value into [0,1] in place.
func (m *Image) Clamp01() {
	for i, v := range m.Pix {
		m.Pix[i] = clamp01(v)
	}
}

// Mask is a single-channel float32 buffer. Binary and feathered masks hold
// values in [0,1]; the compositor's presence and difference maps use 0-255.
type Mask struct {
	Width  int
	Height int
	Pix    []float32
}

// NewMask allocates a zeroed mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]float32, width*height)}
}

// Filled returns a mask with every value set to v.
func Filled(width, height int, v float32) *Mask {
	m := NewMask(width, height)
	for i := range m.Pix {
		m.Pix[i] = v
	}
	return m
}

func (m *Mask) At(x, y int) float32     { return m.Pix[y*m.Width+x] }
func (m *Mask) Set(x, y int, v float32) { m.Pix[y*m.Width+x] = v }

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	return &Mask{Width: m.Width, Height: m.Height, Pix: append([]float32(nil), m.Pix...)}
}

// image views m as a single-channel image sharing Pix.
func (m *Mask) image() *Image {
	return &Image{Width: m.Width, Height: m.Height, Channels: 1, Pix: m.Pix}
}

// SameSize reports whether o has m's dimensions.
func (m *Mask) SameSize(o *Mask) bool {
	return o != nil && m.Width == o.Width && m.Height == o.Height
}

// Threshold sets values above t to hi and everything else to 0, in place.
func (m *Mask) Threshold(t, hi float32) {
	for i, v := range m.Pix {
		if v > t {
			m.Pix[i] = hi
		} else {
			m.Pix[i] = 0
		}
	}
}

// Scale multiplies every value by s, in place.
func (m *Mask) Scale(s float32) {
	for i := range m.Pix {
		m.Pix[i] *= s
	}
}

// Mul multiplies m by o element-wise, in place.
func (m *Mask) Mul(o *Mask) error {
	if o == nil {
		return fmt.Errorf("mask size mismatch: %dx%d vs nil mask", m.Width, m.Height)
	}
	if !m.SameSize(o) {
		return fmt.Errorf("mask size mismatch: %dx%d vs %dx%d", m.Width, m.Height, o.Width, o.Height)
	}
	for i := range m.Pix {
		m.Pix[i] *= o.Pix[i]
	}
	return nil
}

// Count returns the number of values above t.
func (m *Mask) Count(t float32) int {
	n := 0
	for _, v := range m.Pix {
		if v > t {
			n++
		}
	}
	return n
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RGB returns m in RGB order, converting a BGR buffer.
func (m *Image) RGB() *Image {
	if m.Order == BGR {
		return m.SwapRB()
	}
	return m
}
