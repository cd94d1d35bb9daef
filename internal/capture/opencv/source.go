// Package opencv provides the gocv decoder backend and the MOG2 background
// model. Importing it registers both.
package opencv

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bryanchriswhite/riverwatch/internal/capture"
	"github.com/bryanchriswhite/riverwatch/internal/frame"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
	"gocv.io/x/gocv"
)

// Backend is the registry name of the gocv source.
const Backend = "opencv"

// Source reads frames through cv::VideoCapture.
type Source struct {
	mu  sync.Mutex
	vc  *gocv.VideoCapture
	mat gocv.Mat
	url string
	seq uint64
}

// NewSource creates an unopened source.
func NewSource() *Source {
	return &Source{mat: gocv.NewMat()}
}

// Name returns the backend name.
func (s *Source) Name() string {
	return Backend
}

// Open connects to url. Numeric urls select a local device.
func (s *Source) Open(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vc != nil {
		s.vc.Close()
		s.vc = nil
	}

	var device interface{} = url
	if id, err := strconv.Atoi(url); err == nil {
		device = id
	}
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return fmt.Errorf("%w: %v", capture.ErrSourceUnavailable, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("%w: %s did not open", capture.ErrSourceUnavailable, url)
	}

	s.vc = vc
	s.url = url
	logger.WithComponent("opencv").Info().Str("url", url).Msg("Video capture opened")
	return nil
}

// IsOpen reports whether the capture is connected.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vc != nil && s.vc.IsOpened()
}

// ReadFrame decodes the next frame.
func (s *Source) ReadFrame() frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vc == nil {
		return frame.Frame{}
	}
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		return frame.Frame{}
	}

	s.seq++
	return frame.Frame{
		Width:    s.mat.Cols(),
		Height:   s.mat.Rows(),
		Channels: s.mat.Channels(),
		Data:     s.mat.ToBytes(),
		Captured: time.Now(),
		Seq:      s.seq,
	}
}

// Close releases the capture. The source can be opened again.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vc == nil {
		return nil
	}
	err := s.vc.Close()
	s.vc = nil
	logger.WithComponent("opencv").Info().Str("url", s.url).Msg("Video capture closed")
	return err
}

func init() {
	capture.RegisterSource(Backend, func() capture.Source { return NewSource() })
	capture.RegisterModel(ModelName, func() capture.BackgroundModel { return NewMOG2() })
}
