package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bryanchriswhite/riverwatch/internal/logger"
)

// LogSink writes alarms to the structured log.
type LogSink struct{}

// NewLogSink creates a log sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Name returns the sink name
func (LogSink) Name() string {
	return TypeLog
}

// Send logs msg without the snapshot.
func (LogSink) Send(_ context.Context, msg *Message) error {
	p := msg.Payload
	logger.WithComponent("sink").Info().
		Str("alarm_id", p.AlarmID).
		Str("camera_id", p.VideoID).
		Int("scene_type", p.SceneType).
		Str("start_time", p.StartTime).
		Str("extend_data", p.ExtendData).
		Int("locations", len(p.Locations)).
		Bool("snapshot", p.Snapshot != "").
		Msg("Alarm")
	return nil
}

// Close is a no-op
func (LogSink) Close() error {
	return nil
}

// MultiSink fans a message out to several sinks. A send succeeds when at
// least one member accepts it.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Name lists the member names
func (m *MultiSink) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Sinks returns the members.
func (m *MultiSink) Sinks() []Sink {
	return m.sinks
}

// Send delivers msg to every member in order.
func (m *MultiSink) Send(ctx context.Context, msg *Message) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) == len(m.sinks) && len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrSendFailure, errors.Join(errs...))
	}
	for _, err := range errs {
		logger.WithComponent("sink").Warn().Err(err).Msg("Partial delivery")
	}
	return nil
}

// Close closes every member
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
