package frame

import (
	"image"
	"image/color"
	"time"
)

// Kind identifies one of the shared frame slots of a camera.
type Kind int

const (
	// Origin is the raw decoded capture frame.
	Origin Kind = iota
	// Segment is the segmentation map produced by a segmentation stage.
	Segment
	// Foreground is the background-model mask.
	Foreground

	kindCount
)

func (k Kind) String() string {
	switch k {
	case Origin:
		return "origin"
	case Segment:
		return "segment"
	case Foreground:
		return "foreground"
	default:
		return "unknown"
	}
}

// Frame is a packed 8-bit image buffer. Three-channel data is BGR, the
// layout produced by the capture backends; four-channel data is RGBA.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Data     []byte

	Captured time.Time
	// Seq is assigned by the Hub on publish and increases per kind.
	Seq uint64
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Data) == 0
}

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	var out Frame
	f.CopyTo(&out)
	return out
}

// CopyTo deep-copies f into dst, reusing dst's buffer when it is large enough.
func (f Frame) CopyTo(dst *Frame) {
	data := dst.Data[:0]
	data = append(data, f.Data...)
	*dst = f
	dst.Data = data
}

// Reset empties the frame and keeps the buffer for reuse.
func (f *Frame) Reset() {
	data := f.Data[:0]
	*f = Frame{Data: data}
}

// Image converts the frame to an image.Image. Nil is returned for empty
// frames or unsupported channel counts.
func (f Frame) Image() image.Image {
	if f.Empty() || len(f.Data) < f.Width*f.Height*f.Channels {
		return nil
	}

	rect := image.Rect(0, 0, f.Width, f.Height)
	switch f.Channels {
	case 1:
		img := image.NewGray(rect)
		copy(img.Pix, f.Data[:f.Width*f.Height])
		return img
	case 3:
		img := image.NewRGBA(rect)
		for i, j := 0, 0; i < f.Width*f.Height*3; i, j = i+3, j+4 {
			img.Pix[j] = f.Data[i+2]
			img.Pix[j+1] = f.Data[i+1]
			img.Pix[j+2] = f.Data[i]
			img.Pix[j+3] = 0xff
		}
		return img
	case 4:
		img := image.NewRGBA(rect)
		copy(img.Pix, f.Data[:f.Width*f.Height*4])
		return img
	default:
		return nil
	}
}

// FromImage packs img into a four-channel RGBA frame.
func FromImage(img image.Image) Frame {
	b := img.Bounds()
	f := Frame{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Channels: 4,
		Data:     make([]byte, b.Dx()*b.Dy()*4),
	}

	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == b.Dx()*4 {
		copy(f.Data, rgba.Pix)
		return f
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			f.Data[i], f.Data[i+1], f.Data[i+2], f.Data[i+3] = c.R, c.G, c.B, c.A
			i += 4
		}
	}
	return f
}

// At returns the pixel at (x, y) as BGR/gray/RGBA bytes in frame order.
// Out-of-range coordinates return nil.
func (f Frame) At(x, y int) []byte {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return nil
	}
	off := (y*f.Width + x) * f.Channels
	if off+f.Channels > len(f.Data) {
		return nil
	}
	return f.Data[off : off+f.Channels]
}
