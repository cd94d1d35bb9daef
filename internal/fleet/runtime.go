package fleet

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/capture"
	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
)

// Runtime is the process-wide state shared by every pipeline. It is
// created once at startup, handed to the supervisor and torn down with
// Close.
type Runtime struct {
	// Location formats alarm timestamps.
	Location *time.Location
	// Broadcaster carries delivered records to live subscribers.
	Broadcaster *alarm.Broadcaster
	// Started is when the runtime was created.
	Started time.Time

	mu      sync.Mutex
	closers []func() error
	closed  bool
}

// NewRuntime initializes logging, the native capture subsystems and the
// shared state from cfg. Close deinitializes the subsystems.
func NewRuntime(cfg *config.Config) (*Runtime, error) {
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	deinit, err := capture.InitSubsystems()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capture: %w", err)
	}

	rt := &Runtime{
		Location:    cfg.Location(),
		Broadcaster: alarm.NewBroadcaster(),
		Started:     time.Now(),
	}
	rt.OnClose(deinit)
	return rt, nil
}

// OnClose registers fn to run on Close. Hooks run in reverse order.
func (r *Runtime) OnClose(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, fn)
}

// Close runs the registered hooks once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	logger.WithComponent("fleet").Info().Msg("Runtime closed")
	return errors.Join(errs...)
}

// Closed reports whether Close has run.
func (r *Runtime) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
