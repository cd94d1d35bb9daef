package detector

import (
	"fmt"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/frame"
)

const (
	defaultInvadeThreshold = 0.05
	// ForegroundLevel is the mask value counted as moving; shadow pixels
	// (127 from MOG2) stay below it.
	ForegroundLevel = 200
)

// CoverageFunc returns, for each region of mask, the fraction of pixels at
// or above ForegroundLevel. Regions are already in mask coordinates.
type CoverageFunc func(mask frame.Frame, regions []alarm.Rect) []float64

// ROIDetector reports an intrusion when enough of a region of interest is
// covered by foreground pixels.
type ROIDetector struct {
	Base
	hub   FrameReader
	cover CoverageFunc
	// engine names the pixel backend for logs and status.
	engine string
}

// NewROIDetector creates an intrusion detector for the given scene type
// using the pure-Go coverage count.
func NewROIDetector(scene alarm.SceneType, hub FrameReader) *ROIDetector {
	return NewROIDetectorWith(scene, hub, "go", Coverage)
}

// NewROIDetectorWith creates an intrusion detector whose pixel work is
// done by cover.
func NewROIDetectorWith(scene alarm.SceneType, hub FrameReader, engine string, cover CoverageFunc) *ROIDetector {
	d := &ROIDetector{hub: hub, cover: cover, engine: engine}
	d.Init(scene, d.tick)
	return d
}

// Engine names the pixel backend.
func (d *ROIDetector) Engine() string {
	return d.engine
}

// LoadConfig requires at least one region of interest.
func (d *ROIDetector) LoadConfig(cfg config.AlgorithmConfig) error {
	if len(cfg.ROIs) == 0 {
		return fmt.Errorf("%w: %s needs at least one roi_rect", ErrDetectorConfigRejected, d.Type())
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return fmt.Errorf("%w: threshold %.3f outside [0,1]", ErrDetectorConfigRejected, cfg.Threshold)
	}
	return d.Base.LoadConfig(cfg)
}

func (d *ROIDetector) threshold() float64 {
	if t := d.Config().Threshold; t > 0 {
		return t
	}
	return defaultInvadeThreshold
}

func (d *ROIDetector) tick() {
	mask := d.hub.Snapshot(frame.Foreground)
	if mask.Empty() || mask.Channels != 1 {
		return
	}
	originW, originH := d.hub.Dims(frame.Origin)
	if originW == 0 || originH == 0 {
		originW, originH = mask.Width, mask.Height
	}

	hits := EvaluateWith(mask, originW, originH, d.Config().ROIs, d.threshold(), d.cover)
	d.SetAlarm(alarm.Alarm{IsActive: len(hits) > 0, Rects: hits})
}

// Evaluate is EvaluateWith using the pure-Go Coverage.
func Evaluate(mask frame.Frame, originW, originH int, rois []alarm.Rect, threshold float64) []alarm.Rect {
	return EvaluateWith(mask, originW, originH, rois, threshold, Coverage)
}

// EvaluateWith returns the ROIs (in origin coordinates) whose foreground
// coverage in mask exceeds threshold. ROIs are scaled from an originW x
// originH frame onto the mask.
func EvaluateWith(mask frame.Frame, originW, originH int, rois []alarm.Rect, threshold float64, cover CoverageFunc) []alarm.Rect {
	if len(mask.Data) < mask.Width*mask.Height || originW <= 0 || originH <= 0 {
		return nil
	}
	sx := float64(mask.Width) / float64(originW)
	sy := float64(mask.Height) / float64(originH)

	scaled := make([]alarm.Rect, len(rois))
	for i, roi := range rois {
		scaled[i] = alarm.Rect{
			X:      int(float64(roi.X) * sx),
			Y:      int(float64(roi.Y) * sy),
			Width:  int(float64(roi.Width) * sx),
			Height: int(float64(roi.Height) * sy),
		}.Clip(mask.Width, mask.Height)
	}

	fractions := cover(mask, scaled)
	var hits []alarm.Rect
	for i, roi := range rois {
		if scaled[i].Area() == 0 || i >= len(fractions) {
			continue
		}
		if fractions[i] > threshold {
			hits = append(hits, roi.Clip(originW, originH))
		}
	}
	return hits
}

// Coverage counts foreground pixels in plain Go. It is the fallback when
// no native image backend is linked.
func Coverage(mask frame.Frame, regions []alarm.Rect) []float64 {
	out := make([]float64, len(regions))
	for i, r := range regions {
		if r.Area() == 0 {
			continue
		}
		moving := 0
		for y := r.Y; y < r.Y+r.Height; y++ {
			row := mask.Data[y*mask.Width : (y+1)*mask.Width]
			for x := r.X; x < r.X+r.Width; x++ {
				if row[x] >= ForegroundLevel {
					moving++
				}
			}
		}
		out[i] = float64(moving) / float64(r.Area())
	}
	return out
}

func init() {
	Register(alarm.SceneInvade, func(hub FrameReader) Detector {
		return NewROIDetector(alarm.SceneInvade, hub)
	})
}
