// Package alarm defines detector results, the queue-ready alarm record and
// the bounded queue that carries records from a camera's capture loop to
// its dispatcher.
package alarm

import (
	"errors"
	"time"

	"github.com/bryanchriswhite/riverwatch/internal/frame"
)

var (
	// ErrQueueFull is returned when no write slot frees up within the timeout.
	ErrQueueFull = errors.New("alarm queue full")
	// ErrQueueEmpty is returned when nothing is readable within the timeout.
	ErrQueueEmpty = errors.New("alarm queue empty")
	// ErrQueueClosed is returned once the queue has been closed.
	ErrQueueClosed = errors.New("alarm queue closed")
)

// Rect is an axis-aligned region in frame pixel coordinates.
type Rect struct {
	X      int `json:"X" yaml:"x" mapstructure:"x"`
	Y      int `json:"Y" yaml:"y" mapstructure:"y"`
	Width  int `json:"Width" yaml:"width" mapstructure:"width"`
	Height int `json:"Height" yaml:"height" mapstructure:"height"`
}

// Area returns the rectangle area, zero for degenerate rectangles.
func (r Rect) Area() int {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Clip returns r restricted to a w x h frame.
func (r Rect) Clip(w, h int) Rect {
	x0, y0 := max(r.X, 0), max(r.Y, 0)
	x1, y1 := min(r.X+r.Width, w), min(r.Y+r.Height, h)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Alarm is a detector's latest result. Detectors own their Alarm and hand
// out copies.
type Alarm struct {
	SceneType  SceneType
	IsActive   bool
	Rects      []Rect
	Area       float64
	Speed      float64
	Color      string
	GaugeValue float64
}

// Clone returns a copy that shares nothing with a.
func (a Alarm) Clone() Alarm {
	out := a
	if a.Rects != nil {
		out.Rects = append([]Rect(nil), a.Rects...)
	}
	return out
}

// Record is an aggregated alarm ready for delivery. Queue slots hold
// pre-allocated records that are reset and refilled in place.
type Record struct {
	ID         string
	CameraID   string
	SceneType  SceneType
	Timestamp  time.Time
	Snapshot   frame.Frame
	Rects      []Rect
	Area       float64
	Speed      float64
	Color      string
	GaugeValue float64
	IsActive   bool
}

// Reset clears r while keeping its buffers for reuse.
func (r *Record) Reset() {
	rects := r.Rects[:0]
	snap := r.Snapshot
	snap.Reset()

	*r = Record{SceneType: SceneSegmentation, Rects: rects, Snapshot: snap}
}

// Clone returns a deep copy detached from any queue slot.
func (r *Record) Clone() Record {
	out := *r
	out.Snapshot = r.Snapshot.Clone()
	if r.Rects != nil {
		out.Rects = append([]Rect(nil), r.Rects...)
	}
	return out
}

// Fill copies the scene-specific part of a into r. Which fields travel
// depends on the scene type.
func (r *Record) Fill(a Alarm) {
	r.SceneType = a.SceneType
	switch a.SceneType {
	case SceneWaterColor:
		r.Color = a.Color
	case SceneWaterGauge:
		r.GaugeValue = a.GaugeValue
	case SceneFloater:
		r.IsActive = true
		r.Area = a.Area
		r.Speed = a.Speed
		r.Rects = append(r.Rects, a.Rects...)
	case SceneInvade, SceneFishing, SceneLitter:
		r.IsActive = true
		r.Rects = append(r.Rects, a.Rects...)
	case SceneSwimming:
		r.IsActive = true
	}
}
