// Package detector defines the contract between a camera pipeline and the
// analysis algorithms it runs, plus the built-in algorithms.
package detector

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/frame"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
	"github.com/bryanchriswhite/riverwatch/internal/worker"
)

var (
	// ErrDetectorConfigRejected is returned by LoadConfig for unusable configs.
	ErrDetectorConfigRejected = errors.New("detector config rejected")
	// ErrUnknownScene is returned when no factory is registered for a scene type.
	ErrUnknownScene = errors.New("no detector for scene type")
)

// Detector is one analysis algorithm running on its own goroutine. The
// pipeline only polls it through GetAlarm.
type Detector interface {
	Type() alarm.SceneType
	LoadConfig(cfg config.AlgorithmConfig) error
	Start()
	Stop()
	IsRunning() bool
	// GetAlarm returns a copy of the latest result and clears IsActive, so
	// each activation is reported at most once.
	GetAlarm() alarm.Alarm
}

// FrameReader is the read side of a frame.Hub.
type FrameReader interface {
	Snapshot(kind frame.Kind) frame.Frame
	Dims(kind frame.Kind) (width, height int)
}

// Factory builds an unconfigured detector reading frames from hub.
type Factory func(hub FrameReader) Detector

var (
	registryMu sync.RWMutex
	registry   = map[alarm.SceneType]Factory{}
)

// Register installs a factory for a scene type, replacing any previous one.
func Register(scene alarm.SceneType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scene] = f
}

// Registered lists scene types that have a factory.
func Registered() []alarm.SceneType {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]alarm.SceneType, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New builds and configures the detector for cfg.Type.
func New(cfg config.AlgorithmConfig, hub FrameReader) (Detector, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScene, cfg.Type)
	}

	d := f(hub)
	if err := d.LoadConfig(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// Base carries the state every detector shares: its config, its guarded
// alarm and the worker driving its tick loop. Concrete detectors embed it
// and call Init with their tick function.
type Base struct {
	*worker.Worker

	scene alarm.SceneType
	cfg   config.AlgorithmConfig

	alarmMu sync.Mutex
	alarm   alarm.Alarm
}

// Init wires the worker. tick runs once per detect interval.
func (b *Base) Init(scene alarm.SceneType, tick func()) {
	b.scene = scene
	b.alarm.SceneType = scene
	b.Worker = worker.New(scene.String(), func(w *worker.Worker) {
		log := logger.WithComponent("detector")
		log.Info().Str("scene", scene.String()).Msg("Detector started")
		for w.IsRunning() {
			tick()
			w.WaitFor(b.Interval())
		}
		log.Info().Str("scene", scene.String()).Msg("Detector stopped")
	})
}

// Type returns the scene type this detector reports.
func (b *Base) Type() alarm.SceneType {
	return b.scene
}

// LoadConfig stores cfg. Detectors with extra requirements wrap it.
func (b *Base) LoadConfig(cfg config.AlgorithmConfig) error {
	b.cfg = cfg
	return nil
}

// Config returns the bound configuration.
func (b *Base) Config() config.AlgorithmConfig {
	return b.cfg
}

// Interval returns the configured tick period.
func (b *Base) Interval() time.Duration {
	if b.cfg.DetectInterval <= 0 {
		return config.DefaultDetectInterval
	}
	return b.cfg.DetectInterval
}

// SetAlarm replaces the current result. The scene type is always the
// detector's own.
func (b *Base) SetAlarm(a alarm.Alarm) {
	b.alarmMu.Lock()
	defer b.alarmMu.Unlock()

	a.SceneType = b.scene
	b.alarm = a.Clone()
}

// GetAlarm returns a copy of the result and clears IsActive.
func (b *Base) GetAlarm() alarm.Alarm {
	b.alarmMu.Lock()
	defer b.alarmMu.Unlock()

	out := b.alarm.Clone()
	b.alarm.IsActive = false
	return out
}
