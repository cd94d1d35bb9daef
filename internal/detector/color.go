package detector

import (
	"math"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/frame"
)

// ColorFunc names the average color of region in img. ok is false when
// the region holds no pixels.
type ColorFunc func(img frame.Frame, region alarm.Rect) (name string, ok bool)

// ColorDetector names the dominant water color inside the configured ROI
// (or the whole frame) on every tick.
type ColorDetector struct {
	Base
	hub    FrameReader
	color  ColorFunc
	engine string
}

// NewColorDetector creates a water-color detector using the pure-Go mean.
func NewColorDetector(hub FrameReader) *ColorDetector {
	return NewColorDetectorWith(hub, "go", RegionColor)
}

// NewColorDetectorWith creates a water-color detector whose pixel work is
// done by color.
func NewColorDetectorWith(hub FrameReader, engine string, color ColorFunc) *ColorDetector {
	d := &ColorDetector{hub: hub, color: color, engine: engine}
	d.Init(alarm.SceneWaterColor, d.tick)
	return d
}

// Engine names the pixel backend.
func (d *ColorDetector) Engine() string {
	return d.engine
}

func (d *ColorDetector) tick() {
	img := d.hub.Snapshot(frame.Origin)
	if img.Empty() || img.Channels < 3 {
		return
	}

	region := alarm.Rect{Width: img.Width, Height: img.Height}
	if rois := d.Config().ROIs; len(rois) > 0 {
		region = rois[0].Clip(img.Width, img.Height)
	}
	name, ok := d.color(img, region)
	if !ok {
		return
	}
	d.SetAlarm(alarm.Alarm{IsActive: true, Color: name})
}

// RegionColor is the pure-Go ColorFunc.
func RegionColor(img frame.Frame, region alarm.Rect) (string, bool) {
	b, g, r, ok := MeanBGR(img, region)
	if !ok {
		return "", false
	}
	return ColorName(r, g, b), true
}

// MeanBGR averages the first three channels over region. Four-channel
// frames are RGBA and are reordered.
func MeanBGR(img frame.Frame, region alarm.Rect) (b, g, r float64, ok bool) {
	if region.Area() == 0 || len(img.Data) < img.Width*img.Height*img.Channels {
		return 0, 0, 0, false
	}

	var sb, sg, sr float64
	for y := region.Y; y < region.Y+region.Height; y++ {
		off := (y*img.Width + region.X) * img.Channels
		for x := 0; x < region.Width; x++ {
			px := img.Data[off : off+3]
			if img.Channels == 4 {
				sr, sg, sb = sr+float64(px[0]), sg+float64(px[1]), sb+float64(px[2])
			} else {
				sb, sg, sr = sb+float64(px[0]), sg+float64(px[1]), sr+float64(px[2])
			}
			off += img.Channels
		}
	}
	n := float64(region.Area())
	return sb / n, sg / n, sr / n, true
}

// ColorName maps an average RGB value to a coarse color label.
func ColorName(r, g, b float64) string {
	return HSVName(hsv(r/255, g/255, b/255))
}

// HSVName labels a color given hue in degrees and saturation and value in
// [0,1].
func HSVName(h, s, v float64) string {
	switch {
	case v < 0.15:
		return "black"
	case s < 0.15 && v > 0.85:
		return "white"
	case s < 0.15:
		return "gray"
	case h < 20 || h >= 330:
		return "red"
	case h < 45:
		return "brown"
	case h < 70:
		return "yellow"
	case h < 160:
		return "green"
	case h < 200:
		return "cyan"
	case h < 260:
		return "blue"
	default:
		return "purple"
	}
}

func hsv(r, g, b float64) (h, s, v float64) {
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	v = maxC
	delta := maxC - minC
	if maxC == 0 || delta == 0 {
		return 0, 0, v
	}
	s = delta / maxC

	switch maxC {
	case r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}

func init() {
	Register(alarm.SceneWaterColor, func(hub FrameReader) Detector {
		return NewColorDetector(hub)
	})
}
