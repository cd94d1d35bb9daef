// Package capture defines video sources and background models used by
// camera pipelines. Decoder backends live in subpackages and register
// themselves on import.
package capture

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bryanchriswhite/riverwatch/internal/frame"
)

// ErrSourceUnavailable is returned when a stream cannot be opened or read.
var ErrSourceUnavailable = errors.New("video source unavailable")

// Source is a decoded video stream.
type Source interface {
	// Open connects to url. It returns an error wrapping ErrSourceUnavailable
	// when the stream cannot be opened.
	Open(url string) error

	// IsOpen reports whether the stream is currently connected.
	IsOpen() bool

	// ReadFrame returns the next frame, or an empty frame when none could
	// be read.
	ReadFrame() frame.Frame

	// Close releases the stream. Closing a closed source is a no-op.
	Close() error

	// Name returns the backend name for logs
	Name() string
}

// BackgroundModel turns consecutive frames into a single-channel
// foreground mask.
type BackgroundModel interface {
	Apply(f frame.Frame) frame.Frame
	Close() error
}

// SourceFactory builds an unopened source.
type SourceFactory func() Source

// ModelFactory builds a background model.
type ModelFactory func() BackgroundModel

var (
	mu      sync.RWMutex
	sources = map[string]SourceFactory{}
	models  = map[string]ModelFactory{}
)

// RegisterSource makes a decoder backend available by name.
func RegisterSource(name string, f SourceFactory) {
	mu.Lock()
	defer mu.Unlock()
	sources[name] = f
}

// RegisterModel makes a background model available by name.
func RegisterModel(name string, f ModelFactory) {
	mu.Lock()
	defer mu.Unlock()
	models[name] = f
}

// NewSource builds a source for the named backend.
func NewSource(backend string) (Source, error) {
	mu.RLock()
	f, ok := sources[backend]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("capture backend %q not available (have %v)", backend, Backends())
	}
	return f(), nil
}

// NewModel builds the named background model.
func NewModel(name string) (BackgroundModel, error) {
	mu.RLock()
	f, ok := models[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("background model %q not available", name)
	}
	return f(), nil
}

// Backends lists registered decoder backends.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(sources))
	for name := range sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
