package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/capture"
	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/detector"
	"github.com/bryanchriswhite/riverwatch/internal/frame"
	"github.com/bryanchriswhite/riverwatch/internal/sink"
	"github.com/smartystreets/goconvey/convey"
)

type fakeSource struct {
	mu sync.Mutex
	// failOpens is how many opens fail before one succeeds; -1 fails forever.
	failOpens int
	dry       bool
	// flaky makes IsOpen report false after every open.
	flaky bool

	open   bool
	opens  int
	closes int
	reads  int
}

func (s *fakeSource) Open(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.failOpens < 0 || s.opens <= s.failOpens {
		return fmt.Errorf("%w: refused", capture.ErrSourceUnavailable)
	}
	s.open = true
	return nil
}

func (s *fakeSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open && !s.flaky
}

func (s *fakeSource) ReadFrame() frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.dry || !s.open {
		return frame.Frame{}
	}
	data := make([]byte, 8*8*3)
	return frame.Frame{Width: 8, Height: 8, Channels: 3, Data: data, Captured: time.Now()}
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.open = false
	return nil
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) counts() (opens, reads, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.reads, s.closes
}

type fakeDetector struct {
	detector.Base
}

func newFakeDetector(active bool) *fakeDetector {
	d := &fakeDetector{}
	d.Init(alarm.SceneInvade, func() {
		if active {
			d.SetAlarm(alarm.Alarm{IsActive: true, Rects: []alarm.Rect{{X: 1, Y: 1, Width: 2, Height: 2}}})
		}
	})
	return d
}

type fakeSink struct {
	mu    sync.Mutex
	err   error
	delay time.Duration
	msgs  []*sink.Message
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Send(ctx context.Context, msg *sink.Message) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func testConfig() config.CameraConfig {
	return config.CameraConfig{
		ID:               "cam",
		InputURL:         "fake://stream",
		FrameInterval:    time.Millisecond,
		MinAlarmInterval: -1,
		Queue:            config.QueueConfig{Size: 4, Timeout: 10 * time.Millisecond},
		Sink:             config.SinkConfig{Timeout: 100 * time.Millisecond},
		Algorithms: []config.AlgorithmConfig{
			{Type: alarm.SceneInvade, DetectInterval: time.Millisecond},
		},
	}
}

type harness struct {
	p   *Pipeline
	src *fakeSource
	out *fakeSink
	det []*fakeDetector
}

func newHarness(cfg config.CameraConfig, src *fakeSource, out *fakeSink, active bool, bcast *alarm.Broadcaster) *harness {
	h := &harness{src: src, out: out}
	p, err := New(cfg, Options{
		Source:         src,
		Sink:           out,
		Broadcaster:    bcast,
		OpenRetryDelay: time.Millisecond,
		NewDetector: func(a config.AlgorithmConfig, _ detector.FrameReader) (detector.Detector, error) {
			d := newFakeDetector(active)
			if err := d.LoadConfig(a); err != nil {
				return nil, err
			}
			h.det = append(h.det, d)
			return d, nil
		},
	})
	if err != nil {
		panic(err)
	}
	h.p = p
	return h
}

func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func died(p *Pipeline, timeout time.Duration) bool {
	select {
	case <-p.Done():
		return true
	case <-time.After(timeout):
		return false
	}
}

func TestDrySource(t *testing.T) {
	convey.Convey("Given a source that opens but never yields frames", t, func() {
		src := &fakeSource{dry: true}
		h := newHarness(testConfig(), src, &fakeSink{}, false, nil)

		h.p.Start()
		convey.So(died(h.p, 2*time.Second), convey.ShouldBeTrue)

		convey.Convey("Eleven empty reads drain and stop the pipeline", func() {
			opens, reads, closes := src.counts()
			convey.So(opens, convey.ShouldEqual, 1)
			convey.So(reads, convey.ShouldEqual, 11)
			convey.So(closes, convey.ShouldBeGreaterThanOrEqualTo, 1)
			convey.So(h.p.State(), convey.ShouldEqual, Stopped)
			convey.So(h.p.IsRunning(), convey.ShouldBeFalse)
			convey.So(h.det[0].IsRunning(), convey.ShouldBeFalse)
			convey.So(h.p.dispatcher.IsRunning(), convey.ShouldBeFalse)
		})

		convey.Convey("The pipeline can be started again", func() {
			h.p.Stop()
			h.p.Start()
			convey.So(died(h.p, 2*time.Second), convey.ShouldBeTrue)
			convey.So(h.p.Starts(), convey.ShouldEqual, uint64(2))
			_, reads, _ := src.counts()
			convey.So(reads, convey.ShouldEqual, 22)
		})
	})

	convey.Convey("A source that reports closed is reopened once per empty tick", t, func() {
		src := &fakeSource{dry: true, flaky: true}
		h := newHarness(testConfig(), src, &fakeSink{}, false, nil)

		h.p.Start()
		convey.So(died(h.p, 2*time.Second), convey.ShouldBeTrue)
		opens, reads, _ := src.counts()
		convey.So(reads, convey.ShouldEqual, 11)
		convey.So(opens, convey.ShouldEqual, 12)
	})
}

func TestOpenRetries(t *testing.T) {
	convey.Convey("Given a source that never opens", t, func() {
		src := &fakeSource{failOpens: -1}
		h := newHarness(testConfig(), src, &fakeSink{}, true, nil)

		h.p.Start()
		convey.So(died(h.p, 2*time.Second), convey.ShouldBeTrue)

		convey.Convey("The open is tried OpenAttempts times and Running is never reached", func() {
			opens, reads, _ := src.counts()
			convey.So(opens, convey.ShouldEqual, config.DefaultOpenAttempts)
			convey.So(reads, convey.ShouldEqual, 0)
			convey.So(h.p.State(), convey.ShouldEqual, Stopped)
			convey.So(h.det[0].Starts(), convey.ShouldEqual, uint64(0))
		})
	})

	convey.Convey("A source that opens on the third try runs", t, func() {
		src := &fakeSource{failOpens: 2}
		h := newHarness(testConfig(), src, &fakeSink{}, false, nil)

		h.p.Start()
		defer h.p.Stop()
		convey.So(eventually(time.Second, func() bool { return h.p.State() == Running }), convey.ShouldBeTrue)
		opens, _, _ := src.counts()
		convey.So(opens, convey.ShouldEqual, 3)
	})
}

func TestNoDetectors(t *testing.T) {
	convey.Convey("A pipeline whose detectors were all rejected never runs", t, func() {
		src := &fakeSource{}
		p, err := New(testConfig(), Options{
			Source: src,
			Sink:   &fakeSink{},
			NewDetector: func(config.AlgorithmConfig, detector.FrameReader) (detector.Detector, error) {
				return nil, detector.ErrDetectorConfigRejected
			},
		})
		convey.So(err, convey.ShouldBeNil)

		p.Start()
		convey.So(died(p, time.Second), convey.ShouldBeTrue)
		opens, _, _ := src.counts()
		convey.So(opens, convey.ShouldEqual, 0)
		convey.So(p.State(), convey.ShouldEqual, Stopped)
	})

	convey.Convey("New requires a source and a sink", t, func() {
		_, err := New(testConfig(), Options{Sink: &fakeSink{}})
		convey.So(err, convey.ShouldNotBeNil)
		_, err = New(testConfig(), Options{Source: &fakeSource{}})
		convey.So(err, convey.ShouldNotBeNil)
	})
}

func TestDelivery(t *testing.T) {
	convey.Convey("Given a running pipeline with an active detector", t, func() {
		cfg := testConfig()
		cfg.Sink.IncludeSnapshot = true
		bcast := alarm.NewBroadcaster()
		feed := bcast.Subscribe()
		defer bcast.Unsubscribe(feed)

		out := &fakeSink{}
		h := newHarness(cfg, &fakeSource{}, out, true, bcast)
		h.p.Start()
		defer h.p.Stop()

		convey.So(eventually(2*time.Second, func() bool { return out.count() > 0 }), convey.ShouldBeTrue)

		convey.Convey("Records reach the sink in wire form", func() {
			out.mu.Lock()
			p := out.msgs[0].Payload
			out.mu.Unlock()

			convey.So(p.VideoID, convey.ShouldEqual, "cam")
			convey.So(p.SceneType, convey.ShouldEqual, int(alarm.SceneInvade))
			convey.So(p.AlarmID, convey.ShouldNotBeEmpty)
			convey.So(p.Locations, convey.ShouldHaveLength, 1)
			convey.So(p.Snapshot, convey.ShouldNotBeEmpty)
		})

		convey.Convey("Delivered records are broadcast", func() {
			var rec alarm.Record
			got := false
			select {
			case rec = <-feed:
				got = true
			case <-time.After(time.Second):
			}
			convey.So(got, convey.ShouldBeTrue)
			convey.So(rec.CameraID, convey.ShouldEqual, "cam")
			convey.So(rec.Snapshot.Data, convey.ShouldBeNil)
		})

		convey.Convey("Status reflects the traffic", func() {
			s := h.p.Status()
			convey.So(s.State, convey.ShouldEqual, "running")
			convey.So(s.Sent, convey.ShouldBeGreaterThan, 0)
			convey.So(s.LastAlarm, convey.ShouldNotBeNil)
			convey.So(s.Detectors, convey.ShouldResemble, []string{"invade"})
			convey.So(s.QueueCapacity, convey.ShouldEqual, 3)
		})
	})
}

func TestFailingSink(t *testing.T) {
	convey.Convey("Given a slow sink that always fails", t, func() {
		out := &fakeSink{err: sink.ErrSendFailure, delay: 20 * time.Millisecond}
		h := newHarness(testConfig(), &fakeSource{}, out, true, nil)
		h.p.Start()

		maxDepth := 0
		deadline := time.Now().Add(300 * time.Millisecond)
		for time.Now().Before(deadline) {
			if n := h.p.Queue().Len(); n > maxDepth {
				maxDepth = n
			}
			time.Sleep(time.Millisecond)
		}

		convey.Convey("Occupancy stays bounded and the dispatcher keeps going", func() {
			convey.So(maxDepth, convey.ShouldBeLessThanOrEqualTo, h.p.Queue().Capacity())
			convey.So(h.p.dispatcher.IsRunning(), convey.ShouldBeTrue)
			s := h.p.Status()
			convey.So(s.Failed, convey.ShouldBeGreaterThan, 0)
			convey.So(s.Dropped, convey.ShouldBeGreaterThan, 0)
			convey.So(s.Sent, convey.ShouldEqual, uint64(0))
		})

		h.p.Stop()
		convey.So(h.p.State(), convey.ShouldEqual, Stopped)
	})
}

func TestRateLimit(t *testing.T) {
	convey.Convey("Alarms inside the minimum interval are discarded", t, func() {
		cfg := testConfig()
		cfg.MinAlarmInterval = 200 * time.Millisecond
		out := &fakeSink{}
		h := newHarness(cfg, &fakeSource{}, out, true, nil)

		h.p.Start()
		time.Sleep(300 * time.Millisecond)
		h.p.Stop()

		s := h.p.Status()
		convey.So(s.Queued, convey.ShouldBeBetweenOrEqual, 1, 2)
		convey.So(s.RateLimited, convey.ShouldBeGreaterThan, 0)
		convey.So(out.count(), convey.ShouldBeLessThanOrEqualTo, 2)
	})
}

func TestStopDrains(t *testing.T) {
	convey.Convey("Stop joins every stage and closes the source", t, func() {
		src := &fakeSource{}
		h := newHarness(testConfig(), src, &fakeSink{}, true, nil)

		h.p.Start()
		convey.So(eventually(time.Second, func() bool { return h.p.State() == Running }), convey.ShouldBeTrue)
		h.p.Stop()

		_, _, closes := src.counts()
		convey.So(closes, convey.ShouldBeGreaterThanOrEqualTo, 1)
		convey.So(h.p.State(), convey.ShouldEqual, Stopped)
		convey.So(h.det[0].IsRunning(), convey.ShouldBeFalse)
		convey.So(h.p.dispatcher.IsRunning(), convey.ShouldBeFalse)
		convey.So(h.p.Close(), convey.ShouldBeNil)
	})
}

func TestLastAlarmNeedsACommit(t *testing.T) {
	convey.Convey("Given an idle pipeline whose only queue slot is taken", t, func() {
		cfg := testConfig()
		cfg.Queue = config.QueueConfig{Size: 2, Timeout: time.Millisecond}
		h := newHarness(cfg, &fakeSource{}, &fakeSink{}, false, nil)
		convey.So(h.p.Queue().Push(func(*alarm.Record) {}), convey.ShouldBeNil)

		h.det[0].SetAlarm(alarm.Alarm{IsActive: true})
		h.p.aggregate()

		convey.Convey("A batch dropped as queue-full leaves no last alarm", func() {
			st := h.p.Status()
			convey.So(st.Dropped, convey.ShouldEqual, uint64(1))
			convey.So(st.Queued, convey.ShouldEqual, uint64(0))
			convey.So(st.LastAlarm, convey.ShouldBeNil)
		})

		convey.Convey("Once a record is committed the time is recorded", func() {
			convey.So(h.p.Queue().Pop(func(*alarm.Record) {}), convey.ShouldBeNil)
			h.det[0].SetAlarm(alarm.Alarm{IsActive: true})
			h.p.aggregate()

			st := h.p.Status()
			convey.So(st.Queued, convey.ShouldEqual, uint64(1))
			convey.So(st.LastAlarm, convey.ShouldNotBeNil)
		})
	})
}

func TestStateNames(t *testing.T) {
	convey.Convey("States have names", t, func() {
		convey.So(Stopped.String(), convey.ShouldEqual, "stopped")
		convey.So(Draining.String(), convey.ShouldEqual, "draining")
		convey.So(State(42).String(), convey.ShouldEqual, "unknown")
		convey.So(errors.Is(fmt.Errorf("x: %w", capture.ErrSourceUnavailable), capture.ErrSourceUnavailable), convey.ShouldBeTrue)
	})
}
