package capture

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/riverwatch/internal/logger"
)

// Subsystem is process-wide native state a backend needs before any of its
// sources can open. The runtime initializes every registered subsystem at
// startup and tears them down on close.
type Subsystem struct {
	Name   string
	Init   func() error
	Deinit func() error
}

var subsystems []Subsystem

// RegisterSubsystem adds a subsystem. Registration order is init order.
func RegisterSubsystem(s Subsystem) {
	mu.Lock()
	defer mu.Unlock()
	subsystems = append(subsystems, s)
}

// InitSubsystems initializes every registered subsystem and returns a
// function that deinitializes them in reverse order. If one fails, those
// already initialized are torn down again.
func InitSubsystems() (func() error, error) {
	mu.RLock()
	pending := append([]Subsystem(nil), subsystems...)
	mu.RUnlock()

	log := logger.WithComponent("capture")
	var done []Subsystem
	deinit := func() error {
		var errs []error
		for i := len(done) - 1; i >= 0; i-- {
			s := done[i]
			if s.Deinit == nil {
				continue
			}
			if err := s.Deinit(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
				continue
			}
			log.Debug().Str("subsystem", s.Name).Msg("Subsystem deinitialized")
		}
		done = nil
		return errors.Join(errs...)
	}

	for _, s := range pending {
		if s.Init != nil {
			if err := s.Init(); err != nil {
				return nil, errors.Join(fmt.Errorf("init %s: %w", s.Name, err), deinit())
			}
		}
		done = append(done, s)
		log.Debug().Str("subsystem", s.Name).Msg("Subsystem initialized")
	}
	return deinit, nil
}
