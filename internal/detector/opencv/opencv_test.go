package opencv

import (
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/detector"
	"github.com/bryanchriswhite/riverwatch/internal/frame"
)

func maskFrame(w, h int, fill func(x, y int) byte) frame.Frame {
	data := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = fill(x, y)
		}
	}
	return frame.Frame{Width: w, Height: h, Channels: 1, Data: data}
}

func bgrFrame(w, h int, b, g, r byte) frame.Frame {
	data := make([]byte, w*h*3)
	for i := 0; i < len(data); i += 3 {
		data[i], data[i+1], data[i+2] = b, g, r
	}
	return frame.Frame{Width: w, Height: h, Channels: 3, Data: data}
}

func TestCoverage(t *testing.T) {
	convey.Convey("Given a mask whose left half moves and right half is shadow", t, func() {
		mask := maskFrame(64, 36, func(x, y int) byte {
			if x < 32 {
				return 255
			}
			return 127
		})
		regions := []alarm.Rect{
			{X: 0, Y: 0, Width: 16, Height: 16},
			{X: 40, Y: 0, Width: 16, Height: 16},
			{X: 24, Y: 0, Width: 16, Height: 10},
			{},
		}

		convey.Convey("Counts match the pure-Go fallback", func() {
			got := Coverage(mask, regions)
			convey.So(got, convey.ShouldResemble, detector.Coverage(mask, regions))
			convey.So(got[0], convey.ShouldEqual, 1.0)
			convey.So(got[1], convey.ShouldEqual, 0.0)
			convey.So(got[2], convey.ShouldEqual, 0.5)
			convey.So(got[3], convey.ShouldEqual, 0.0)
		})

		convey.Convey("ROIs hit the same way through Evaluate", func() {
			left := alarm.Rect{X: 0, Y: 0, Width: 100, Height: 100}
			right := alarm.Rect{X: 400, Y: 0, Width: 100, Height: 100}
			hits := detector.EvaluateWith(mask, 640, 360, []alarm.Rect{left, right}, 0.05, Coverage)
			convey.So(hits, convey.ShouldResemble, []alarm.Rect{left})
		})
	})

	convey.Convey("Non-mask frames yield zero coverage", t, func() {
		got := Coverage(bgrFrame(4, 4, 255, 255, 255), []alarm.Rect{{Width: 4, Height: 4}})
		convey.So(got, convey.ShouldResemble, []float64{0})
	})
}

func TestRegionColor(t *testing.T) {
	convey.Convey("Mean colors are named through HSV", t, func() {
		full := alarm.Rect{Width: 8, Height: 8}
		cases := []struct {
			b, g, r byte
			want    string
		}{
			{20, 20, 200, "red"},
			{40, 160, 30, "green"},
			{200, 40, 20, "blue"},
			{120, 120, 120, "gray"},
		}
		for _, c := range cases {
			name, ok := RegionColor(bgrFrame(8, 8, c.b, c.g, c.r), full)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(name, convey.ShouldEqual, c.want)
		}
	})

	convey.Convey("Only the region is averaged", t, func() {
		img := bgrFrame(8, 8, 200, 40, 20)
		for y := 0; y < 8; y++ {
			for x := 0; x < 4; x++ {
				off := (y*8 + x) * 3
				img.Data[off], img.Data[off+1], img.Data[off+2] = 40, 160, 30
			}
		}
		name, ok := RegionColor(img, alarm.Rect{Width: 4, Height: 8})
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(name, convey.ShouldEqual, "green")
	})

	convey.Convey("RGBA frames are reordered", t, func() {
		rgba := frame.Frame{Width: 2, Height: 2, Channels: 4, Data: []byte{
			200, 20, 20, 255, 200, 20, 20, 255,
			200, 20, 20, 255, 200, 20, 20, 255,
		}}
		name, ok := RegionColor(rgba, alarm.Rect{Width: 2, Height: 2})
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(name, convey.ShouldEqual, "red")
	})

	convey.Convey("Empty regions are not named", t, func() {
		_, ok := RegionColor(bgrFrame(4, 4, 0, 0, 0), alarm.Rect{})
		convey.So(ok, convey.ShouldBeFalse)
	})
}

func TestRegistration(t *testing.T) {
	convey.Convey("Linking the package swaps in gocv detectors", t, func() {
		hub := frame.NewHub()

		d, err := detector.New(config.AlgorithmConfig{
			Type: alarm.SceneInvade,
			ROIs: []alarm.Rect{{Width: 10, Height: 10}},
		}, hub)
		convey.So(err, convey.ShouldBeNil)
		convey.So(d.(*detector.ROIDetector).Engine(), convey.ShouldEqual, Engine)

		d, err = detector.New(config.AlgorithmConfig{Type: alarm.SceneWaterColor}, hub)
		convey.So(err, convey.ShouldBeNil)
		convey.So(d.(*detector.ColorDetector).Engine(), convey.ShouldEqual, Engine)
	})
}
