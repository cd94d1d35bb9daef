// Package gstreamer decodes network streams and files through a GStreamer
// uridecodebin pipeline. Importing it registers the "gstreamer" backend.
package gstreamer

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/riverwatch/internal/capture"
	"github.com/bryanchriswhite/riverwatch/internal/frame"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Backend is the registry name of this source.
const Backend = "gstreamer"

// pullTimeout bounds a single ReadFrame call.
const pullTimeout = 2 * time.Second

// ErrNotInitialized is returned by Open outside Init/Deinit.
var ErrNotInitialized = errors.New("gstreamer not initialized")

var (
	stateMu     sync.Mutex
	initialized bool
	// finished is set by Deinit; GStreamer cannot be initialized again in
	// the same process.
	finished bool
)

// Init initializes GStreamer. It is called by the runtime at startup.
func Init() error {
	stateMu.Lock()
	defer stateMu.Unlock()

	if finished {
		return errors.New("gstreamer was deinitialized and cannot be initialized again")
	}
	if !initialized {
		gst.Init(nil)
		initialized = true
		logger.WithComponent("gstreamer").Info().Msg("GStreamer initialized")
	}
	return nil
}

// Deinit releases GStreamer's global state. Every pipeline must be closed
// first.
func Deinit() error {
	stateMu.Lock()
	defer stateMu.Unlock()

	if initialized {
		gst.Deinit()
		initialized = false
		finished = true
		logger.WithComponent("gstreamer").Info().Msg("GStreamer deinitialized")
	}
	return nil
}

func ready() bool {
	stateMu.Lock()
	defer stateMu.Unlock()
	return initialized
}

// Source pulls BGR frames from an appsink.
type Source struct {
	mu       sync.Mutex
	pipeline *gst.Pipeline
	appsink  *app.Sink
	url      string
	seq      uint64
}

// New creates an unopened source.
func New() *Source {
	return &Source{}
}

// Name returns the backend name.
func (s *Source) Name() string {
	return Backend
}

// pipelineString builds the decode graph for url. Plain paths become file URIs.
func pipelineString(url string) string {
	uri := url
	if !strings.Contains(uri, "://") {
		uri = "file://" + uri
	}
	return fmt.Sprintf(
		"uridecodebin uri=%s ! "+
			"videoconvert ! "+
			"video/x-raw,format=BGR ! "+
			"appsink name=sink emit-signals=false max-buffers=2 drop=true sync=false",
		uri,
	)
}

// Open builds and starts the pipeline.
func (s *Source) Open(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline != nil {
		s.closeLocked()
	}

	log := logger.WithComponent("gstreamer")
	if !ready() {
		return fmt.Errorf("%w: %w", capture.ErrSourceUnavailable, ErrNotInitialized)
	}

	pipelineStr := pipelineString(url)
	log.Debug().Str("pipeline", pipelineStr).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return fmt.Errorf("%w: create pipeline: %v", capture.ErrSourceUnavailable, err)
	}

	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return fmt.Errorf("%w: get appsink: %v", capture.ErrSourceUnavailable, err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		pipeline.Unref()
		return fmt.Errorf("%w: start pipeline: %v", capture.ErrSourceUnavailable, err)
	}

	s.pipeline = pipeline
	s.appsink = app.SinkFromElement(sinkElement)
	s.url = url

	log.Info().Str("url", url).Msg("GStreamer pipeline started")
	return nil
}

// IsOpen reports whether the pipeline is running and has not hit EOS.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appsink != nil && !s.appsink.IsEOS()
}

// ReadFrame pulls one sample, waiting up to pullTimeout.
func (s *Source) ReadFrame() frame.Frame {
	s.mu.Lock()
	appsink := s.appsink
	s.mu.Unlock()

	if appsink == nil {
		return frame.Frame{}
	}

	// go-gst releases the sample itself; Unref here double-frees.
	sample := appsink.TryPullSample(pullTimeout)
	if sample == nil {
		return frame.Frame{}
	}
	f, ok := toFrame(sample)
	if !ok {
		return frame.Frame{}
	}

	s.mu.Lock()
	s.seq++
	f.Seq = s.seq
	s.mu.Unlock()
	return f
}

func toFrame(sample *gst.Sample) (frame.Frame, bool) {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return frame.Frame{}, false
	}
	caps := sample.GetCaps()
	if caps == nil {
		return frame.Frame{}, false
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return frame.Frame{}, false
	}

	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, ok := width.(int)
	if !ok {
		return frame.Frame{}, false
	}
	h, ok := height.(int)
	if !ok {
		return frame.Frame{}, false
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return frame.Frame{}, false
	}
	defer buffer.Unmap()

	// BGR rows may be padded to 4 bytes.
	data := mapInfo.Bytes()
	rowLen := w * 3
	stride := rowLen
	if h > 0 && len(data)/h > rowLen {
		stride = len(data) / h
	}
	if len(data) < stride*(h-1)+rowLen {
		return frame.Frame{}, false
	}

	out := make([]byte, rowLen*h)
	for y := 0; y < h; y++ {
		copy(out[y*rowLen:(y+1)*rowLen], data[y*stride:y*stride+rowLen])
	}

	return frame.Frame{
		Width:    w,
		Height:   h,
		Channels: 3,
		Data:     out,
		Captured: time.Now(),
	}, true
}

// Close stops and releases the pipeline.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Source) closeLocked() {
	if s.pipeline == nil {
		return
	}
	s.pipeline.SetState(gst.StateNull)
	s.pipeline.Unref()
	s.pipeline = nil
	s.appsink = nil

	logger.WithComponent("gstreamer").Info().Str("url", s.url).Msg("GStreamer pipeline stopped")
}

func init() {
	capture.RegisterSource(Backend, func() capture.Source { return New() })
	capture.RegisterSubsystem(capture.Subsystem{Name: Backend, Init: Init, Deinit: Deinit})
}
