package detector

import (
	"errors"
	"testing"
	"time"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/frame"
	"github.com/smartystreets/goconvey/convey"
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

func TestEdgeTriggeredAlarm(t *testing.T) {
	convey.Convey("Given a detector base with an active alarm", t, func() {
		var b Base
		b.Init(alarm.SceneLitter, func() {})
		b.SetAlarm(alarm.Alarm{IsActive: true, Rects: []alarm.Rect{{X: 1, Width: 2, Height: 2}}})

		convey.Convey("The first read reports it and the second does not", func() {
			first := b.GetAlarm()
			second := b.GetAlarm()
			convey.So(first.IsActive, convey.ShouldBeTrue)
			convey.So(first.SceneType, convey.ShouldEqual, alarm.SceneLitter)
			convey.So(second.IsActive, convey.ShouldBeFalse)
		})

		convey.Convey("Reads are copies", func() {
			got := b.GetAlarm()
			got.Rects[0].X = 50
			convey.So(b.GetAlarm().Rects[0].X, convey.ShouldEqual, 1)
		})

		convey.Convey("SetAlarm cannot change the scene type", func() {
			b.SetAlarm(alarm.Alarm{SceneType: alarm.SceneFloater, IsActive: true})
			convey.So(b.GetAlarm().SceneType, convey.ShouldEqual, alarm.SceneLitter)
		})
	})
}

func TestRegistry(t *testing.T) {
	convey.Convey("The registry builds configured detectors", t, func() {
		hub := frame.NewHub()

		convey.Convey("Built-in scene types are registered", func() {
			convey.So(Registered(), convey.ShouldContain, alarm.SceneInvade)
			convey.So(Registered(), convey.ShouldContain, alarm.SceneWaterColor)
		})

		convey.Convey("Unknown scene types are reported", func() {
			_, err := New(config.AlgorithmConfig{Type: alarm.SceneSwimming}, hub)
			convey.So(errors.Is(err, ErrUnknownScene), convey.ShouldBeTrue)
		})

		convey.Convey("Invade without ROIs is rejected", func() {
			_, err := New(config.AlgorithmConfig{Type: alarm.SceneInvade}, hub)
			convey.So(errors.Is(err, ErrDetectorConfigRejected), convey.ShouldBeTrue)
		})

		convey.Convey("Invade with a bad threshold is rejected", func() {
			_, err := New(config.AlgorithmConfig{
				Type:      alarm.SceneInvade,
				ROIs:      []alarm.Rect{{Width: 1, Height: 1}},
				Threshold: 3,
			}, hub)
			convey.So(errors.Is(err, ErrDetectorConfigRejected), convey.ShouldBeTrue)
		})

		convey.Convey("Water color needs no ROI", func() {
			d, err := New(config.AlgorithmConfig{Type: alarm.SceneWaterColor}, hub)
			convey.So(err, convey.ShouldBeNil)
			convey.So(d.Type(), convey.ShouldEqual, alarm.SceneWaterColor)
		})
	})
}

func TestEvaluate(t *testing.T) {
	convey.Convey("ROI coverage is measured on the scaled mask", t, func() {
		// Left half of a 64x36 mask is moving.
		mask := maskFrame(64, 36, func(x, y int) byte {
			if x < 32 {
				return 255
			}
			return 0
		})
		left := alarm.Rect{X: 0, Y: 0, Width: 100, Height: 100}
		right := alarm.Rect{X: 400, Y: 0, Width: 100, Height: 100}

		hits := Evaluate(mask, 640, 360, []alarm.Rect{left, right}, 0.05)
		convey.So(hits, convey.ShouldResemble, []alarm.Rect{left})

		convey.Convey("Shadow pixels do not count", func() {
			shadow := maskFrame(64, 36, func(x, y int) byte { return 127 })
			convey.So(Evaluate(shadow, 640, 360, []alarm.Rect{left}, 0.05), convey.ShouldBeEmpty)
		})

		convey.Convey("ROIs outside the frame are ignored", func() {
			off := alarm.Rect{X: 5000, Y: 5000, Width: 10, Height: 10}
			convey.So(Evaluate(mask, 640, 360, []alarm.Rect{off}, 0.05), convey.ShouldBeEmpty)
		})
	})
}

func TestEvaluateWith(t *testing.T) {
	convey.Convey("The coverage function sees mask-space regions", t, func() {
		mask := maskFrame(64, 36, func(x, y int) byte { return 0 })
		var seen []alarm.Rect
		cover := func(_ frame.Frame, regions []alarm.Rect) []float64 {
			seen = regions
			return []float64{0.5, 0.01}
		}
		a := alarm.Rect{X: 0, Y: 0, Width: 100, Height: 100}
		b := alarm.Rect{X: 300, Y: 100, Width: 100, Height: 100}

		hits := EvaluateWith(mask, 640, 360, []alarm.Rect{a, b}, 0.05, cover)
		convey.So(hits, convey.ShouldResemble, []alarm.Rect{a})
		convey.So(seen, convey.ShouldResemble, []alarm.Rect{
			{X: 0, Y: 0, Width: 10, Height: 10},
			{X: 30, Y: 10, Width: 10, Height: 10},
		})
	})

	convey.Convey("Pure-Go coverage is exact on partial regions", t, func() {
		mask := maskFrame(8, 2, func(x, y int) byte {
			if x < 2 {
				return 255
			}
			return 0
		})
		got := Coverage(mask, []alarm.Rect{{Width: 4, Height: 2}, {}})
		convey.So(got, convey.ShouldResemble, []float64{0.5, 0})
	})

	convey.Convey("Built-in detectors report their engine", t, func() {
		convey.So(NewROIDetector(alarm.SceneInvade, frame.NewHub()).Engine(), convey.ShouldEqual, "go")
		convey.So(NewColorDetector(frame.NewHub()).Engine(), convey.ShouldEqual, "go")
	})
}

func TestROIDetectorRun(t *testing.T) {
	convey.Convey("A running ROI detector raises an alarm from the hub", t, func() {
		hub := frame.NewHub()
		d, err := New(config.AlgorithmConfig{
			Type:           alarm.SceneInvade,
			DetectInterval: 5 * time.Millisecond,
			ROIs:           []alarm.Rect{{X: 0, Y: 0, Width: 10, Height: 10}},
		}, hub)
		convey.So(err, convey.ShouldBeNil)

		hub.Publish(frame.Origin, bgrFrame(20, 20, 0, 0, 0))
		hub.Publish(frame.Foreground, maskFrame(20, 20, func(x, y int) byte { return 255 }))

		d.Start()
		defer d.Stop()

		var got alarm.Alarm
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if got = d.GetAlarm(); got.IsActive {
				break
			}
			time.Sleep(2 * time.Millisecond)
		}
		convey.So(got.IsActive, convey.ShouldBeTrue)
		convey.So(got.SceneType, convey.ShouldEqual, alarm.SceneInvade)
		convey.So(got.Rects, convey.ShouldHaveLength, 1)
	})
}

func TestColor(t *testing.T) {
	convey.Convey("Colors are named from their hue", t, func() {
		convey.So(ColorName(200, 20, 20), convey.ShouldEqual, "red")
		convey.So(ColorName(30, 160, 40), convey.ShouldEqual, "green")
		convey.So(ColorName(20, 40, 200), convey.ShouldEqual, "blue")
		convey.So(ColorName(120, 120, 120), convey.ShouldEqual, "gray")
		convey.So(ColorName(5, 5, 5), convey.ShouldEqual, "black")
		convey.So(ColorName(250, 250, 250), convey.ShouldEqual, "white")
		convey.So(HSVName(230, 0.8, 0.7), convey.ShouldEqual, "blue")
	})

	convey.Convey("MeanBGR honours channel order", t, func() {
		b, g, r, ok := MeanBGR(bgrFrame(4, 4, 10, 20, 30), alarm.Rect{Width: 4, Height: 4})
		convey.So(ok, convey.ShouldBeTrue)
		convey.So([]float64{b, g, r}, convey.ShouldResemble, []float64{10, 20, 30})

		rgba := frame.Frame{Width: 1, Height: 1, Channels: 4, Data: []byte{30, 20, 10, 255}}
		b, g, r, ok = MeanBGR(rgba, alarm.Rect{Width: 1, Height: 1})
		convey.So(ok, convey.ShouldBeTrue)
		convey.So([]float64{b, g, r}, convey.ShouldResemble, []float64{10, 20, 30})
	})

	convey.Convey("A running color detector reports the water color", t, func() {
		hub := frame.NewHub()
		hub.Publish(frame.Origin, bgrFrame(8, 8, 40, 160, 30))

		d := NewColorDetector(hub)
		convey.So(d.LoadConfig(config.AlgorithmConfig{Type: alarm.SceneWaterColor, DetectInterval: 5 * time.Millisecond}), convey.ShouldBeNil)
		d.Start()
		defer d.Stop()

		var got alarm.Alarm
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if got = d.GetAlarm(); got.IsActive {
				break
			}
			time.Sleep(2 * time.Millisecond)
		}
		convey.So(got.Color, convey.ShouldEqual, "green")
	})
}
