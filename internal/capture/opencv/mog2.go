package opencv

import (
	"image"
	"sync"

	"github.com/bryanchriswhite/riverwatch/internal/frame"
	"gocv.io/x/gocv"
)

// ModelName is the registry name of the MOG2 model.
const ModelName = "mog2"

const (
	mog2History      = 500
	mog2VarThreshold = 50
	modelWidth       = 640
	modelHeight      = 360
	// Frames at or below this size are modelled at native resolution.
	minResizeWidth  = 280
	minResizeHeight = 20
)

// MOG2 is a Gaussian-mixture background subtractor. Shadows are marked
// with 127 in the mask, foreground with 255.
type MOG2 struct {
	mu   sync.Mutex
	sub  gocv.BackgroundSubtractorMOG2
	gray gocv.Mat
	mask gocv.Mat
}

// NewMOG2 creates a model with shadow detection enabled.
func NewMOG2() *MOG2 {
	return &MOG2{
		sub:  gocv.NewBackgroundSubtractorMOG2WithParams(mog2History, mog2VarThreshold, true),
		gray: gocv.NewMat(),
		mask: gocv.NewMat(),
	}
}

// Apply updates the model with f and returns the foreground mask.
func (m *MOG2) Apply(f frame.Frame) frame.Frame {
	if f.Empty() {
		return frame.Frame{}
	}

	matType := gocv.MatTypeCV8UC3
	conv := gocv.ColorBGRToGray
	switch f.Channels {
	case 1:
		matType = gocv.MatTypeCV8UC1
	case 4:
		matType = gocv.MatTypeCV8UC4
		conv = gocv.ColorRGBAToGray
	}

	src, err := gocv.NewMatFromBytes(f.Height, f.Width, matType, f.Data)
	if err != nil {
		return frame.Frame{}
	}
	defer src.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	if f.Channels == 1 {
		src.CopyTo(&m.gray)
	} else {
		gocv.CvtColor(src, &m.gray, conv)
	}
	if f.Width > minResizeWidth && f.Height > minResizeHeight {
		gocv.Resize(m.gray, &m.gray, image.Pt(modelWidth, modelHeight), 0, 0, gocv.InterpolationLinear)
	}

	m.sub.Apply(m.gray, &m.mask)
	if m.mask.Empty() {
		return frame.Frame{}
	}
	return frame.Frame{
		Width:    m.mask.Cols(),
		Height:   m.mask.Rows(),
		Channels: 1,
		Data:     m.mask.ToBytes(),
		Captured: f.Captured,
		Seq:      f.Seq,
	}
}

// Close frees the native resources.
func (m *MOG2) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gray.Close()
	m.mask.Close()
	return m.sub.Close()
}
