package capture

import (
	"testing"

	"github.com/bryanchriswhite/riverwatch/internal/frame"
	"github.com/smartystreets/goconvey/convey"
)

type nullSource struct{ open bool }

func (s *nullSource) Open(string) error      { s.open = true; return nil }
func (s *nullSource) IsOpen() bool           { return s.open }
func (s *nullSource) ReadFrame() frame.Frame { return frame.Frame{} }
func (s *nullSource) Close() error           { s.open = false; return nil }
func (s *nullSource) Name() string           { return "null" }

func gray(w, h int, v byte) frame.Frame {
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = v
	}
	return frame.Frame{Width: w, Height: h, Channels: 3, Data: data}
}

func TestRegistry(t *testing.T) {
	convey.Convey("Backends are looked up by name", t, func() {
		RegisterSource("null", func() Source { return &nullSource{} })

		src, err := NewSource("null")
		convey.So(err, convey.ShouldBeNil)
		convey.So(src.Name(), convey.ShouldEqual, "null")
		convey.So(Backends(), convey.ShouldContain, "null")

		_, err = NewSource("missing")
		convey.So(err, convey.ShouldNotBeNil)
	})

	convey.Convey("The diff model is always available", t, func() {
		m, err := NewModel(DiffModelName)
		convey.So(err, convey.ShouldBeNil)
		convey.So(m.Close(), convey.ShouldBeNil)

		_, err = NewModel("missing")
		convey.So(err, convey.ShouldNotBeNil)
	})
}

func TestDiffModel(t *testing.T) {
	convey.Convey("Given a diff model primed with a dark frame", t, func() {
		m := NewDiffModel()
		first := m.Apply(gray(8, 4, 10))
		convey.So(first.Channels, convey.ShouldEqual, 1)
		convey.So(first.Data, convey.ShouldNotContain, byte(255))

		convey.Convey("A bright frame is all foreground", func() {
			mask := m.Apply(gray(8, 4, 200))
			convey.So(mask.Width, convey.ShouldEqual, 8)
			convey.So(mask.Data, convey.ShouldNotContain, byte(0))
		})

		convey.Convey("A size change resets the background", func() {
			mask := m.Apply(gray(4, 4, 200))
			convey.So(mask.Data, convey.ShouldNotContain, byte(255))
		})

		convey.Convey("Empty frames yield empty masks", func() {
			convey.So(m.Apply(frame.Frame{}).Empty(), convey.ShouldBeTrue)
		})
	})
}
