// Package sink delivers encoded alarm records to remote systems.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
)

// ErrSendFailure is returned when a sink rejects a message or times out.
var ErrSendFailure = errors.New("sink send failed")

// Sink defines the interface for alarm delivery mechanisms.
// This allows us to swap between different transports:
// - HTTP POST of the JSON body
// - MQTT, Kafka or Redis streams
// - a Postgres archive table
type Sink interface {
	// Name returns a human-readable name for this sink type
	Name() string

	// Send delivers msg once. It must return when ctx is done.
	Send(ctx context.Context, msg *Message) error

	// Close releases connections
	Close() error
}

// Sink type names used in configuration.
const (
	TypeHTTP     = "http"
	TypeMQTT     = "mqtt"
	TypeKafka    = "kafka"
	TypeRedis    = "redis"
	TypePostgres = "postgres"
	TypeLog      = "log"
)

// New builds a single sink of the given type.
func New(kind string, cfg config.SinkConfig) (Sink, error) {
	switch kind {
	case TypeHTTP:
		return NewHTTPSink(cfg.URL, cfg.Timeout)
	case TypeMQTT:
		return NewMQTTSink(cfg.MQTT)
	case TypeKafka:
		return NewKafkaSink(cfg.Kafka)
	case TypeRedis:
		return NewRedisSink(cfg.Redis), nil
	case TypePostgres:
		return NewPostgresSink(cfg.Postgres)
	case TypeLog:
		return NewLogSink(), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", kind)
	}
}

// NewFromConfig builds every sink listed in cfg.Types. Sinks that fail to
// build are reported in the returned error and left out; if none could be
// built a log sink is used so records are still retired visibly.
func NewFromConfig(cfg config.SinkConfig) (Sink, error) {
	log := logger.WithComponent("sink")

	var (
		members []Sink
		errs    []error
	)
	for _, kind := range cfg.Types {
		s, err := New(kind, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		log.Debug().Str("sink", s.Name()).Msg("Sink ready")
		members = append(members, s)
	}

	switch len(members) {
	case 0:
		return NewLogSink(), errors.Join(errs...)
	case 1:
		return members[0], errors.Join(errs...)
	default:
		return NewMultiSink(members...), errors.Join(errs...)
	}
}
