// Package pipeline runs one camera: a capture loop that feeds the frame
// hub and aggregates detector alarms into the camera queue, and a
// dispatcher that drains the queue into a sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/capture"
	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/detector"
	"github.com/bryanchriswhite/riverwatch/internal/frame"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
	"github.com/bryanchriswhite/riverwatch/internal/metrics"
	"github.com/bryanchriswhite/riverwatch/internal/sink"
	"github.com/bryanchriswhite/riverwatch/internal/worker"
)

// State is the lifecycle phase of a pipeline.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Draining
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

const (
	defaultOpenRetryDelay = time.Second
	closedQueuePoll       = 10 * time.Millisecond
)

// DetectorFactory builds a configured detector bound to hub.
type DetectorFactory func(cfg config.AlgorithmConfig, hub detector.FrameReader) (detector.Detector, error)

// Options carries the collaborators of a pipeline. Source and Sink are
// required.
type Options struct {
	Source capture.Source
	// Model produces the Foreground frame; nil disables modelling.
	Model capture.BackgroundModel
	Sink  sink.Sink
	// Broadcaster receives every delivered record; optional.
	Broadcaster *alarm.Broadcaster
	// Location formats alarm timestamps; nil means time.Local.
	Location *time.Location
	// NewDetector defaults to detector.New.
	NewDetector DetectorFactory
	// OpenRetryDelay is the pause between failed opens.
	OpenRetryDelay time.Duration
}

// Pipeline is one camera's capture loop plus its dispatcher.
type Pipeline struct {
	*worker.Worker

	cfg        config.CameraConfig
	opts       Options
	hub        *frame.Hub
	queue      *alarm.Queue
	detectors  []detector.Detector
	dispatcher *worker.Worker
	limiter    *rate.Limiter
	log        *zerolog.Logger

	state atomic.Int32

	frames     atomic.Uint64
	emptyReads atomic.Uint64
	queued     atomic.Uint64
	dropped    atomic.Uint64
	limited    atomic.Uint64
	sent       atomic.Uint64
	failed     atomic.Uint64

	lastAlarmMu sync.RWMutex
	lastAlarm   time.Time

	active []alarm.Alarm
}

// New builds a pipeline for cfg. Detectors whose config is rejected are
// logged and left out; a pipeline without detectors refuses to run.
func New(cfg config.CameraConfig, opts Options) (*Pipeline, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("camera %s: no video source", cfg.ID)
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("camera %s: no sink", cfg.ID)
	}
	if opts.NewDetector == nil {
		opts.NewDetector = func(a config.AlgorithmConfig, hub detector.FrameReader) (detector.Detector, error) {
			return detector.New(a, hub)
		}
	}
	if opts.OpenRetryDelay <= 0 {
		opts.OpenRetryDelay = defaultOpenRetryDelay
	}
	cfg.ApplyDefaults()

	p := &Pipeline{
		cfg:   cfg,
		opts:  opts,
		hub:   frame.NewHub(),
		queue: alarm.NewQueue(cfg.Queue.Size, cfg.Queue.Timeout),
		log:   logger.WithCamera("pipeline", cfg.ID),
	}

	limit := rate.Inf
	if cfg.MinAlarmInterval > 0 {
		limit = rate.Every(cfg.MinAlarmInterval)
	}
	p.limiter = rate.NewLimiter(limit, 1)

	for _, a := range cfg.Algorithms {
		d, err := opts.NewDetector(a, p.hub)
		if err != nil {
			p.log.Warn().Err(err).Str("scene", a.Type.String()).Msg("Detector excluded")
			continue
		}
		p.detectors = append(p.detectors, d)
	}

	p.Worker = worker.New("pipeline-"+cfg.ID, p.run)
	p.dispatcher = worker.New("dispatcher-"+cfg.ID, p.dispatch)
	return p, nil
}

// ID returns the camera id.
func (p *Pipeline) ID() string {
	return p.cfg.ID
}

// State returns the current lifecycle phase.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Hub exposes the camera's shared frames.
func (p *Pipeline) Hub() *frame.Hub {
	return p.hub
}

// Queue exposes the camera's alarm queue.
func (p *Pipeline) Queue() *alarm.Queue {
	return p.queue
}

func (p *Pipeline) setState(s State) {
	old := State(p.state.Swap(int32(s)))
	if old != s {
		p.log.Info().Str("from", old.String()).Str("to", s.String()).Msg("Pipeline state changed")
	}
	metrics.SetRunning(p.cfg.ID, s == Running)
}

// run is the capture loop. It returns when the source stays dry, the
// open fails for good or Stop is called; all three drain first.
func (p *Pipeline) run(w *worker.Worker) {
	p.setState(Starting)

	if len(p.detectors) == 0 {
		p.log.Error().Msg("No usable detectors, not starting")
		p.setState(Stopped)
		return
	}
	if !p.open(w) {
		p.setState(Stopped)
		return
	}

	p.hub.Clear()
	p.queue.Reopen()
	for _, d := range p.detectors {
		d.Start()
	}
	p.dispatcher.Start()
	p.setState(Running)

	empty := 0
	for w.IsRunning() {
		f := p.opts.Source.ReadFrame()
		if f.Empty() {
			empty++
			p.emptyReads.Add(1)
			metrics.EmptyReads.WithLabelValues(p.cfg.ID).Inc()

			if !p.opts.Source.IsOpen() {
				p.log.Warn().Msg("Source closed, reopening")
				p.opts.Source.Close()
				if err := p.opts.Source.Open(p.cfg.InputURL); err != nil {
					p.log.Warn().Err(err).Msg("Reopen failed")
				}
			}
			if empty > p.cfg.MaxEmptyReads {
				p.log.Warn().Int("empty_reads", empty).Msg("Source dry, draining")
				break
			}
			w.WaitFor(p.cfg.FrameInterval)
			continue
		}

		empty = 0
		p.frames.Add(1)
		metrics.FramesRead.WithLabelValues(p.cfg.ID).Inc()

		p.hub.Publish(frame.Origin, f)
		if p.opts.Model != nil {
			if mask := p.opts.Model.Apply(f); !mask.Empty() {
				p.hub.Publish(frame.Foreground, mask)
			}
		}
		p.aggregate()
		w.WaitFor(p.cfg.FrameInterval)
	}

	p.drain()
}

// open tries the source up to OpenAttempts times.
func (p *Pipeline) open(w *worker.Worker) bool {
	for attempt := 1; attempt <= p.cfg.OpenAttempts; attempt++ {
		err := p.opts.Source.Open(p.cfg.InputURL)
		if err == nil {
			return true
		}
		p.log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", p.cfg.OpenAttempts).
			Msg("Open failed")

		if attempt < p.cfg.OpenAttempts && !w.WaitFor(p.opts.OpenRetryDelay) {
			return false
		}
	}
	p.log.Error().Str("url", p.cfg.InputURL).Msg("Giving up on source")
	return false
}

func (p *Pipeline) drain() {
	p.setState(Draining)

	for _, d := range p.detectors {
		d.Stop()
	}
	p.queue.Close()
	p.dispatcher.Stop()
	if err := p.opts.Source.Close(); err != nil {
		p.log.Warn().Err(err).Msg("Source close failed")
	}

	p.setState(Stopped)
}

// aggregate polls every detector once and queues the active alarms,
// at most once per MinAlarmInterval.
func (p *Pipeline) aggregate() {
	p.active = p.active[:0]
	for _, d := range p.detectors {
		if a := d.GetAlarm(); a.IsActive {
			p.active = append(p.active, a)
		}
	}
	if len(p.active) == 0 {
		return
	}

	if !p.limiter.Allow() {
		p.limited.Add(uint64(len(p.active)))
		metrics.AlarmsDropped.WithLabelValues(p.cfg.ID, "rate_limited").Add(float64(len(p.active)))
		p.log.Debug().Int("alarms", len(p.active)).Msg("Alarms rate limited")
		return
	}

	now := time.Now()
	committed := 0
	for _, a := range p.active {
		rec := p.queue.AcquireWriteSlot()
		if rec == nil {
			p.dropped.Add(1)
			metrics.AlarmsDropped.WithLabelValues(p.cfg.ID, "queue_full").Inc()
			p.log.Warn().Str("scene", a.SceneType.String()).Msg("Alarm queue full, dropping alarm")
			continue
		}

		rec.ID = uuid.NewString()
		rec.CameraID = p.cfg.ID
		rec.Timestamp = now
		p.hub.SnapshotInto(frame.Origin, &rec.Snapshot)
		rec.Fill(a)
		p.queue.CommitWrite()
		committed++

		p.queued.Add(1)
		metrics.AlarmsQueued.WithLabelValues(p.cfg.ID, a.SceneType.String()).Inc()
		metrics.QueueDepth.WithLabelValues(p.cfg.ID).Set(float64(p.queue.Len()))
	}

	if committed == 0 {
		return
	}
	p.lastAlarmMu.Lock()
	p.lastAlarm = now
	p.lastAlarmMu.Unlock()
}

// dispatch is the single queue consumer.
func (p *Pipeline) dispatch(w *worker.Worker) {
	log := logger.WithCamera("dispatcher", p.cfg.ID)
	log.Debug().Msg("Dispatcher started")

	for w.IsRunning() {
		err := p.queue.Pop(p.deliver)
		switch {
		case err == nil:
			metrics.QueueDepth.WithLabelValues(p.cfg.ID).Set(float64(p.queue.Len()))
		case errors.Is(err, alarm.ErrQueueClosed):
			w.WaitFor(closedQueuePoll)
		}
	}
	log.Debug().Msg("Dispatcher stopped")
}

// deliver sends rec once. The caller retires the slot whatever happens.
func (p *Pipeline) deliver(rec *alarm.Record) {
	log := logger.WithCamera("dispatcher", p.cfg.ID)

	msg, err := sink.Encode(rec, sink.EncodeOptions{
		Location:         p.opts.Location,
		IncludeSnapshot:  p.cfg.Sink.IncludeSnapshot,
		SnapshotMaxWidth: p.cfg.Sink.SnapshotMaxWidth,
	})
	if err != nil {
		p.failed.Add(1)
		metrics.Sends.WithLabelValues(p.cfg.ID, "failed").Inc()
		log.Error().Err(err).Str("alarm_id", rec.ID).Msg("Failed to encode alarm")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Sink.Timeout)
	defer cancel()

	start := time.Now()
	err = p.opts.Sink.Send(ctx, msg)
	metrics.SendDuration.WithLabelValues(p.cfg.ID).Observe(time.Since(start).Seconds())

	if err != nil {
		p.failed.Add(1)
		metrics.Sends.WithLabelValues(p.cfg.ID, "failed").Inc()
		log.Warn().Err(err).
			Str("alarm_id", rec.ID).
			Str("sink", p.opts.Sink.Name()).
			Msg("Alarm send failed")
		return
	}

	p.sent.Add(1)
	metrics.Sends.WithLabelValues(p.cfg.ID, "ok").Inc()
	log.Debug().Str("alarm_id", rec.ID).Str("scene", rec.SceneType.String()).Msg("Alarm sent")

	if p.opts.Broadcaster != nil {
		p.opts.Broadcaster.Publish(rec)
	}
}

// Close stops the pipeline and releases the source, model and sink.
func (p *Pipeline) Close() error {
	p.Stop()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(p.opts.Source.Close())
	if p.opts.Model != nil {
		keep(p.opts.Model.Close())
	}
	keep(p.opts.Sink.Close())
	return firstErr
}
