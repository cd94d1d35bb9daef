package capture

import (
	"sync"

	"github.com/bryanchriswhite/riverwatch/internal/frame"
)

// DiffModelName is the registry name of the running-average model.
const DiffModelName = "diff"

// DiffModel is a running-average background model that needs no native
// libraries. Pixels that differ from the background by more than
// Threshold are marked 255.
type DiffModel struct {
	// Alpha is the background learning rate in (0,1].
	Alpha float64
	// Threshold is the gray-level difference counted as foreground.
	Threshold float64

	mu         sync.Mutex
	background []float64
	w, h       int
}

// NewDiffModel creates a model with common defaults.
func NewDiffModel() *DiffModel {
	return &DiffModel{Alpha: 0.05, Threshold: 25}
}

// Apply updates the background with f and returns the foreground mask.
func (m *DiffModel) Apply(f frame.Frame) frame.Frame {
	if f.Empty() || len(f.Data) < f.Width*f.Height*f.Channels {
		return frame.Frame{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := f.Width * f.Height
	if m.w != f.Width || m.h != f.Height {
		m.w, m.h = f.Width, f.Height
		m.background = make([]float64, n)
		for i := 0; i < n; i++ {
			m.background[i] = luma(f, i)
		}
	}

	mask := make([]byte, n)
	for i := 0; i < n; i++ {
		v := luma(f, i)
		d := v - m.background[i]
		if d < 0 {
			d = -d
		}
		if d > m.Threshold {
			mask[i] = 255
		}
		m.background[i] += m.Alpha * (v - m.background[i])
	}

	return frame.Frame{
		Width:    f.Width,
		Height:   f.Height,
		Channels: 1,
		Data:     mask,
		Captured: f.Captured,
		Seq:      f.Seq,
	}
}

// Close is a no-op.
func (m *DiffModel) Close() error {
	return nil
}

func luma(f frame.Frame, i int) float64 {
	px := f.Data[i*f.Channels:]
	switch f.Channels {
	case 1:
		return float64(px[0])
	case 4:
		return 0.299*float64(px[0]) + 0.587*float64(px[1]) + 0.114*float64(px[2])
	default:
		return 0.114*float64(px[0]) + 0.587*float64(px[1]) + 0.299*float64(px[2])
	}
}

func init() {
	RegisterModel(DiffModelName, func() BackgroundModel { return NewDiffModel() })
}
