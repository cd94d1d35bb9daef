// Package fleet starts every configured camera pipeline and restarts the
// ones that die.
package fleet

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
	"github.com/bryanchriswhite/riverwatch/internal/metrics"
	"github.com/bryanchriswhite/riverwatch/internal/pipeline"
)

// ErrNoPipelines is returned by RunAll when nothing is configured.
var ErrNoPipelines = errors.New("no pipelines configured")

// Handle is what the supervisor needs from a pipeline.
type Handle interface {
	ID() string
	Start()
	Stop()
	IsRunning() bool
}

// Supervisor owns the pipeline handles.
type Supervisor struct {
	rt      *Runtime
	handles []Handle

	initialDelay time.Duration
	period       time.Duration

	mu       sync.Mutex
	restarts map[string]uint64

	log *zerolog.Logger
}

// New creates a supervisor over handles.
func New(rt *Runtime, cfg config.FleetConfig, handles ...Handle) *Supervisor {
	if cfg.WatchdogPeriod <= 0 {
		cfg.WatchdogPeriod = config.DefaultWatchdogPeriod
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	return &Supervisor{
		rt:           rt,
		handles:      handles,
		initialDelay: cfg.InitialDelay,
		period:       cfg.WatchdogPeriod,
		restarts:     make(map[string]uint64),
		log:          logger.WithComponent("fleet"),
	}
}

// FromConfig builds a pipeline for every enabled camera. Cameras that
// cannot be built are logged and skipped.
func FromConfig(rt *Runtime, cfg *config.Config) *Supervisor {
	log := logger.WithComponent("fleet")

	var handles []Handle
	for _, cam := range cfg.Cameras {
		if cam.Disabled {
			log.Info().Str("camera_id", cam.ID).Msg("Camera disabled, skipping")
			continue
		}
		p, err := pipeline.Build(cam, rt.Location, rt.Broadcaster)
		if err != nil {
			log.Error().Err(err).Str("camera_id", cam.ID).Msg("Failed to build pipeline")
			continue
		}
		handles = append(handles, p)
	}
	return New(rt, cfg.Fleet, handles...)
}

// Runtime returns the shared runtime handle.
func (s *Supervisor) Runtime() *Runtime {
	return s.rt
}

// Handles returns the supervised handles.
func (s *Supervisor) Handles() []Handle {
	return s.handles
}

// RunAll starts every pipeline, waits the settle delay and then runs the
// watchdog until ctx is done.
func (s *Supervisor) RunAll(ctx context.Context) error {
	if len(s.handles) == 0 {
		return ErrNoPipelines
	}

	for _, h := range s.handles {
		s.log.Info().Str("camera_id", h.ID()).Msg("Starting pipeline")
		h.Start()
	}

	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}

	s.log.Info().Dur("period", s.period).Msg("Watchdog running")
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Watchdog stopped")
			return nil
		case <-ticker.C:
			s.Check()
		}
	}
}

// Check restarts every handle that is not running. It returns how many
// were restarted.
func (s *Supervisor) Check() int {
	restarted := 0
	for _, h := range s.handles {
		if h.IsRunning() {
			continue
		}
		s.log.Warn().Str("camera_id", h.ID()).Msg("Pipeline dead, restarting")
		h.Stop()
		h.Start()
		restarted++

		s.mu.Lock()
		s.restarts[h.ID()]++
		s.mu.Unlock()
		metrics.Restarts.WithLabelValues(h.ID()).Inc()
	}
	return restarted
}

// Restarts returns how often the watchdog restarted id.
func (s *Supervisor) Restarts(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts[id]
}

// Shutdown stops every pipeline in parallel and waits for them.
func (s *Supervisor) Shutdown() {
	var wg sync.WaitGroup
	for _, h := range s.handles {
		wg.Add(1)
		go func(h Handle) {
			defer wg.Done()
			h.Stop()
		}(h)
	}
	wg.Wait()
	s.log.Info().Int("pipelines", len(s.handles)).Msg("All pipelines stopped")
}

// Close shuts down, releases closable handles and closes the runtime.
func (s *Supervisor) Close() error {
	s.Shutdown()

	var errs []error
	for _, h := range s.handles {
		if c, ok := h.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if s.rt != nil {
		if err := s.rt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Statuses reports every pipeline that exposes a status, ordered by id.
func (s *Supervisor) Statuses() []pipeline.Status {
	out := make([]pipeline.Status, 0, len(s.handles))
	for _, h := range s.handles {
		if p, ok := h.(interface{ Status() pipeline.Status }); ok {
			st := p.Status()
			st.Restarts = s.Restarts(h.ID())
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// Status reports one pipeline.
func (s *Supervisor) Status(id string) (pipeline.Status, bool) {
	for _, h := range s.handles {
		if h.ID() != id {
			continue
		}
		if p, ok := h.(interface{ Status() pipeline.Status }); ok {
			st := p.Status()
			st.Restarts = s.Restarts(id)
			return st, true
		}
	}
	return pipeline.Status{}, false
}
