// Package opencv runs the built-in detectors' pixel work through gocv.
// Importing it replaces the pure-Go Invade and WaterColor detectors.
package opencv

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/detector"
	"github.com/bryanchriswhite/riverwatch/internal/frame"
)

// Engine is the name reported by detectors built here.
const Engine = "opencv"

func rect(r alarm.Rect) image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// toMat wraps f's pixels. The caller closes the Mat.
func toMat(f frame.Frame) (gocv.Mat, bool) {
	var mt gocv.MatType
	switch f.Channels {
	case 1:
		mt = gocv.MatTypeCV8UC1
	case 3:
		mt = gocv.MatTypeCV8UC3
	case 4:
		mt = gocv.MatTypeCV8UC4
	default:
		return gocv.Mat{}, false
	}
	n := f.Width * f.Height * f.Channels
	if n == 0 || len(f.Data) < n {
		return gocv.Mat{}, false
	}
	m, err := gocv.NewMatFromBytes(f.Height, f.Width, mt, f.Data[:n])
	if err != nil {
		return gocv.Mat{}, false
	}
	return m, true
}

// Coverage thresholds the mask at detector.ForegroundLevel once and counts
// the non-zero pixels of every region.
func Coverage(mask frame.Frame, regions []alarm.Rect) []float64 {
	out := make([]float64, len(regions))

	src, ok := toMat(mask)
	if !ok || mask.Channels != 1 {
		if ok {
			src.Close()
		}
		return out
	}
	defer src.Close()

	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(src, &bin, detector.ForegroundLevel-1, 255, gocv.ThresholdBinary)

	for i, r := range regions {
		if r.Area() == 0 {
			continue
		}
		roi := bin.Region(rect(r))
		out[i] = float64(gocv.CountNonZero(roi)) / float64(r.Area())
		roi.Close()
	}
	return out
}

// RegionColor averages region with Mat.Mean, converts the mean pixel to
// HSV and names it.
func RegionColor(img frame.Frame, region alarm.Rect) (string, bool) {
	if region.Area() == 0 || img.Channels < 3 {
		return "", false
	}
	src, ok := toMat(img)
	if !ok {
		return "", false
	}
	defer src.Close()

	roi := src.Region(rect(region))
	defer roi.Close()
	mean := roi.Mean()

	b, g, r := mean.Val1, mean.Val2, mean.Val3
	if img.Channels == 4 {
		r, b = b, r
	}

	px := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, g, r, 0), 1, 1, gocv.MatTypeCV8UC3)
	defer px.Close()
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(px, &hsv, gocv.ColorBGRToHSV)

	v := hsv.ToBytes()
	if len(v) < 3 {
		return "", false
	}
	// 8-bit HSV stores hue halved and saturation/value in 0..255.
	return detector.HSVName(float64(v[0])*2, float64(v[1])/255, float64(v[2])/255), true
}

func init() {
	detector.Register(alarm.SceneInvade, func(hub detector.FrameReader) detector.Detector {
		return detector.NewROIDetectorWith(alarm.SceneInvade, hub, Engine, Coverage)
	})
	detector.Register(alarm.SceneWaterColor, func(hub detector.FrameReader) detector.Detector {
		return detector.NewColorDetectorWith(hub, Engine, RegionColor)
	})
}
