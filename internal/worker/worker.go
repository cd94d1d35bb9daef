// Package worker provides the start/stop/join contract shared by every
// long-running stage: camera pipelines, detectors and dispatchers.
package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/riverwatch/internal/logger"
)

// RunFunc is the body of a stage. It should loop while w.IsRunning() and
// use w.WaitFor between ticks so Stop is observed promptly.
type RunFunc func(w *Worker)

// Worker runs a RunFunc on its own goroutine with a cooperative running flag.
type Worker struct {
	name string
	run  RunFunc

	// opMu serializes Start and Stop. stateMu guards the channels and is
	// never held while blocking, so WaitFor can be used from inside run.
	opMu    sync.Mutex
	stateMu sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}

	running atomic.Bool
	starts  atomic.Uint64
}

// New creates a stopped worker.
func New(name string, run RunFunc) *Worker {
	return &Worker{name: name, run: run}
}

// Name returns the name used in logs.
func (w *Worker) Name() string {
	return w.name
}

// Start spawns the run goroutine. It is a no-op while a previous run is
// still executing.
func (w *Worker) Start() {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if w.done != nil {
		select {
		case <-w.done:
		default:
			return
		}
	}

	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	w.running.Store(true)
	w.starts.Add(1)

	go w.loop(w.done)
}

func (w *Worker) loop(done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("worker").Error().
				Str("worker", w.name).
				Interface("panic", r).
				Msg("Worker run loop panicked")
		}
		w.running.Store(false)
		close(done)
	}()

	w.run(w)
}

// Stop clears the running flag, wakes any WaitFor in progress and blocks
// until the run goroutine has returned. Stopping a worker that is not
// running is a no-op. Stop must not be called from the worker's own run.
func (w *Worker) Stop() {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	w.stateMu.Lock()
	stop, done := w.stopCh, w.done
	w.stopCh = nil
	w.stateMu.Unlock()

	if done == nil {
		return
	}

	w.running.Store(false)
	if stop != nil {
		close(stop)
	}
	<-done
}

// IsRunning reports the cooperative running flag.
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

// Starts reports how many times the worker has been started.
func (w *Worker) Starts() uint64 {
	return w.starts.Load()
}

// Done returns a channel closed once the current run has exited.
// For a worker that was never started the channel is already closed.
func (w *Worker) Done() <-chan struct{} {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if w.done == nil {
		return closedChan
	}
	return w.done
}

// WaitUntilDied blocks until the current run has exited.
func (w *Worker) WaitUntilDied() {
	<-w.Done()
}

// WaitFor waits up to d. It returns early when Stop is requested or the run
// exits, and reports whether the worker is still running afterwards.
func (w *Worker) WaitFor(d time.Duration) bool {
	w.stateMu.Lock()
	stop, done := w.stopCh, w.done
	w.stateMu.Unlock()

	if done == nil || stop == nil {
		return w.IsRunning()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-stop:
	case <-done:
	}
	return w.IsRunning()
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
