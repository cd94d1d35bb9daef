package config

import (
	"time"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
)

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty  bool   `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	// TimeZone is an IANA name used for alarm timestamps ("Local" by default).
	TimeZone string `json:"time_zone" yaml:"time_zone" mapstructure:"time_zone"`

	Fleet   FleetConfig    `json:"fleet" yaml:"fleet" mapstructure:"fleet"`
	Cameras []CameraConfig `json:"cameras" yaml:"cameras" mapstructure:"cameras"`
}

// FleetConfig controls the supervisor watchdog
type FleetConfig struct {
	InitialDelay   time.Duration `json:"initial_delay" yaml:"initial_delay" mapstructure:"initial_delay"`
	WatchdogPeriod time.Duration `json:"watchdog_period" yaml:"watchdog_period" mapstructure:"watchdog_period"`
}

// CameraConfig describes one analysed stream
type CameraConfig struct {
	ID       string `json:"camera_id" yaml:"camera_id" mapstructure:"camera_id"`
	InputURL string `json:"input_url" yaml:"input_url" mapstructure:"input_url"`
	// Backend selects the decoder: "opencv" or "gstreamer".
	Backend  string `json:"backend" yaml:"backend" mapstructure:"backend"`
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled,omitempty" mapstructure:"disabled"`

	FrameInterval    time.Duration `json:"frame_interval" yaml:"frame_interval" mapstructure:"frame_interval"`
	OpenAttempts     int           `json:"open_attempts" yaml:"open_attempts" mapstructure:"open_attempts"`
	MaxEmptyReads    int           `json:"max_empty_reads" yaml:"max_empty_reads" mapstructure:"max_empty_reads"`
	MinAlarmInterval time.Duration `json:"min_alarm_interval" yaml:"min_alarm_interval" mapstructure:"min_alarm_interval"`
	// OpenModeling enables the background model that feeds the Foreground frame.
	OpenModeling bool `json:"open_modeling" yaml:"open_modeling" mapstructure:"open_modeling"`

	Queue      QueueConfig       `json:"queue" yaml:"queue" mapstructure:"queue"`
	Sink       SinkConfig        `json:"sink" yaml:"sink" mapstructure:"sink"`
	Algorithms []AlgorithmConfig `json:"algorithms" yaml:"algorithms" mapstructure:"algorithms"`
}

// QueueConfig sizes the per-camera alarm queue. A negative timeout waits forever.
type QueueConfig struct {
	Size    int           `json:"size" yaml:"size" mapstructure:"size"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// AlgorithmConfig is bound to one detector instance and never changes after start
type AlgorithmConfig struct {
	Type           alarm.SceneType    `json:"type" yaml:"type" mapstructure:"type"`
	DetectInterval time.Duration      `json:"detect_interval" yaml:"detect_interval" mapstructure:"detect_interval"`
	ROIs           []alarm.Rect       `json:"roi_rects,omitempty" yaml:"roi_rects,omitempty" mapstructure:"roi_rects"`
	Threshold      float64            `json:"threshold,omitempty" yaml:"threshold,omitempty" mapstructure:"threshold"`
	Params         map[string]float64 `json:"params,omitempty" yaml:"params,omitempty" mapstructure:"params"`
}

// Param returns a named tuning parameter or def when unset.
func (a AlgorithmConfig) Param(name string, def float64) float64 {
	if v, ok := a.Params[name]; ok {
		return v
	}
	return def
}

// SinkConfig selects and configures alarm delivery
type SinkConfig struct {
	// Types lists the sinks records fan out to: http, mqtt, kafka, redis, postgres, log.
	Types            []string      `json:"types" yaml:"types" mapstructure:"types"`
	URL              string        `json:"url,omitempty" yaml:"url,omitempty" mapstructure:"url"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	IncludeSnapshot  bool          `json:"include_snapshot" yaml:"include_snapshot" mapstructure:"include_snapshot"`
	SnapshotMaxWidth int           `json:"snapshot_max_width" yaml:"snapshot_max_width" mapstructure:"snapshot_max_width"`

	MQTT     MQTTConfig     `json:"mqtt,omitempty" yaml:"mqtt,omitempty" mapstructure:"mqtt"`
	Kafka    KafkaConfig    `json:"kafka,omitempty" yaml:"kafka,omitempty" mapstructure:"kafka"`
	Redis    RedisConfig    `json:"redis,omitempty" yaml:"redis,omitempty" mapstructure:"redis"`
	Postgres PostgresConfig `json:"postgres,omitempty" yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// MQTTConfig configures the MQTT sink
type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker" mapstructure:"broker"`
	ClientID string `json:"client_id" yaml:"client_id" mapstructure:"client_id"`
	Topic    string `json:"topic" yaml:"topic" mapstructure:"topic"`
	QoS      byte   `json:"qos" yaml:"qos" mapstructure:"qos"`
}

// KafkaConfig configures the Kafka sink
type KafkaConfig struct {
	Brokers string `json:"brokers" yaml:"brokers" mapstructure:"brokers"`
	Topic   string `json:"topic" yaml:"topic" mapstructure:"topic"`
}

// RedisConfig configures the Redis stream sink
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `json:"db" yaml:"db" mapstructure:"db"`
	Stream   string `json:"stream" yaml:"stream" mapstructure:"stream"`
	MaxLen   int64  `json:"max_len" yaml:"max_len" mapstructure:"max_len"`
}

// PostgresConfig configures the alarm archive sink
type PostgresConfig struct {
	DSN   string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
	Table string `json:"table" yaml:"table" mapstructure:"table"`
}

// Defaults applied to zero-valued camera fields.
const (
	DefaultServerPort       = 8080
	DefaultQueueSize        = 50
	DefaultQueueTimeout     = time.Second
	DefaultOpenAttempts     = 4
	DefaultMaxEmptyReads    = 10
	DefaultMinAlarmInterval = time.Second
	DefaultFrameInterval    = 40 * time.Millisecond
	DefaultDetectInterval   = 200 * time.Millisecond
	DefaultSendTimeout      = 500 * time.Millisecond
	DefaultSnapshotWidth    = 1280
	DefaultInitialDelay     = 10 * time.Second
	DefaultWatchdogPeriod   = 5 * time.Second
)

// Location resolves TimeZone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Camera returns the camera with the given id.
func (c *Config) Camera(id string) (CameraConfig, bool) {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return CameraConfig{}, false
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Cameras = make([]CameraConfig, len(c.Cameras))
	for i, cam := range c.Cameras {
		out.Cameras[i] = cam.Clone()
	}
	return &out
}

// Clone returns a deep copy.
func (c CameraConfig) Clone() CameraConfig {
	out := c
	out.Sink.Types = append([]string(nil), c.Sink.Types...)
	out.Algorithms = make([]AlgorithmConfig, len(c.Algorithms))
	for i, a := range c.Algorithms {
		a.ROIs = append([]alarm.Rect(nil), a.ROIs...)
		if a.Params != nil {
			params := make(map[string]float64, len(a.Params))
			for k, v := range a.Params {
				params[k] = v
			}
			a.Params = params
		}
		out.Algorithms[i] = a
	}
	return out
}

// ApplyDefaults fills zero-valued fields with the package defaults.
func (c *Config) ApplyDefaults() {
	if c.ServerPort == 0 {
		c.ServerPort = DefaultServerPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.TimeZone == "" {
		c.TimeZone = "Local"
	}
	if c.Fleet.InitialDelay == 0 {
		c.Fleet.InitialDelay = DefaultInitialDelay
	}
	if c.Fleet.WatchdogPeriod <= 0 {
		c.Fleet.WatchdogPeriod = DefaultWatchdogPeriod
	}
	for i := range c.Cameras {
		c.Cameras[i].ApplyDefaults()
	}
}

// ApplyDefaults fills zero-valued camera fields.
func (c *CameraConfig) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = "opencv"
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = DefaultFrameInterval
	}
	if c.OpenAttempts <= 0 {
		c.OpenAttempts = DefaultOpenAttempts
	}
	if c.MaxEmptyReads <= 0 {
		c.MaxEmptyReads = DefaultMaxEmptyReads
	}
	if c.MinAlarmInterval == 0 {
		c.MinAlarmInterval = DefaultMinAlarmInterval
	}
	if c.Queue.Size == 0 {
		c.Queue.Size = DefaultQueueSize
	}
	if c.Queue.Timeout == 0 {
		c.Queue.Timeout = DefaultQueueTimeout
	}
	if len(c.Sink.Types) == 0 {
		c.Sink.Types = []string{"http"}
	}
	if c.Sink.Timeout <= 0 {
		c.Sink.Timeout = DefaultSendTimeout
	}
	if c.Sink.SnapshotMaxWidth <= 0 {
		c.Sink.SnapshotMaxWidth = DefaultSnapshotWidth
	}
	for i := range c.Algorithms {
		if c.Algorithms[i].DetectInterval <= 0 {
			c.Algorithms[i].DetectInterval = DefaultDetectInterval
		}
	}
}
