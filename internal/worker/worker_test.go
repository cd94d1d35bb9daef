package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
)

func loopingRun(entered *atomic.Int32) RunFunc {
	return func(w *Worker) {
		entered.Add(1)
		for w.IsRunning() {
			w.WaitFor(5 * time.Millisecond)
		}
	}
}

func TestWorkerLifecycle(t *testing.T) {
	convey.Convey("Given a worker with a looping run", t, func() {
		var entered atomic.Int32
		w := New("loop", loopingRun(&entered))

		convey.Convey("Start is idempotent while running", func() {
			w.Start()
			w.Start()
			w.Start()
			time.Sleep(20 * time.Millisecond)

			convey.So(w.IsRunning(), convey.ShouldBeTrue)
			convey.So(entered.Load(), convey.ShouldEqual, 1)
			convey.So(w.Starts(), convey.ShouldEqual, 1)

			w.Stop()
		})

		convey.Convey("Stop joins the run goroutine", func() {
			w.Start()
			w.Stop()

			convey.So(w.IsRunning(), convey.ShouldBeFalse)
			select {
			case <-w.Done():
			default:
				t.Fatal("done channel not closed after Stop")
			}
		})

		convey.Convey("Stop on a stopped worker is a no-op", func() {
			convey.So(func() { w.Stop() }, convey.ShouldNotPanic)
			w.Start()
			w.Stop()
			convey.So(func() { w.Stop() }, convey.ShouldNotPanic)
		})

		convey.Convey("A stopped worker can be started again", func() {
			w.Start()
			w.Stop()
			w.Start()
			defer w.Stop()

			time.Sleep(10 * time.Millisecond)
			convey.So(w.IsRunning(), convey.ShouldBeTrue)
			convey.So(entered.Load(), convey.ShouldEqual, 2)
			convey.So(w.Starts(), convey.ShouldEqual, 2)
		})
	})

	convey.Convey("Given a run that exits on its own", t, func() {
		release := make(chan struct{})
		w := New("oneshot", func(w *Worker) {
			<-release
		})
		w.Start()

		convey.Convey("WaitUntilDied blocks until the run returns", func() {
			died := make(chan struct{})
			go func() {
				w.WaitUntilDied()
				close(died)
			}()

			select {
			case <-died:
				t.Fatal("WaitUntilDied returned early")
			case <-time.After(20 * time.Millisecond):
			}

			close(release)
			select {
			case <-died:
			case <-time.After(time.Second):
				t.Fatal("WaitUntilDied did not return")
			}
			convey.So(w.IsRunning(), convey.ShouldBeFalse)
		})

		convey.Convey("WaitFor returns early when the run exits", func() {
			go func() {
				time.Sleep(10 * time.Millisecond)
				close(release)
			}()

			start := time.Now()
			alive := w.WaitFor(5 * time.Second)
			convey.So(alive, convey.ShouldBeFalse)
			convey.So(time.Since(start), convey.ShouldBeLessThan, time.Second)
		})
	})

	convey.Convey("A panicking run is recovered and reported dead", t, func() {
		w := New("panics", func(w *Worker) {
			panic("boom")
		})
		w.Start()
		w.WaitUntilDied()

		convey.So(w.IsRunning(), convey.ShouldBeFalse)
	})

	convey.Convey("WaitUntilDied on a never-started worker returns immediately", t, func() {
		w := New("idle", func(w *Worker) {})
		done := make(chan struct{})
		go func() {
			w.WaitUntilDied()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("WaitUntilDied blocked on an idle worker")
		}
	})
}
