package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides (RIVERWATCH_SERVER_PORT, ...).
const EnvPrefix = "RIVERWATCH"

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultConfigPath returns $HOME/.config/riverwatch/config.yaml
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "riverwatch", "config.yaml"), nil
}

// NewManager creates a new configuration manager. A missing file is created
// with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = m.getDefaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Int("cameras", len(m.config.Cameras)).
		Msg("Config loaded")

	return m, nil
}

// getDefaults returns default configuration with one example camera
func (m *Manager) getDefaults() *Config {
	cfg := &Config{
		ServerPort: DefaultServerPort,
		LogLevel:   "info",
		TimeZone:   "Local",
		Fleet: FleetConfig{
			InitialDelay:   DefaultInitialDelay,
			WatchdogPeriod: DefaultWatchdogPeriod,
		},
		Cameras: []CameraConfig{
			{
				ID:           "river-01",
				InputURL:     "rtsp://127.0.0.1:8554/river-01",
				Backend:      "opencv",
				OpenModeling: true,
				Queue: QueueConfig{
					Size:    DefaultQueueSize,
					Timeout: DefaultQueueTimeout,
				},
				Sink: SinkConfig{
					Types:   []string{"http"},
					URL:     "http://127.0.0.1:9000/api/alarms",
					Timeout: DefaultSendTimeout,
				},
				Algorithms: []AlgorithmConfig{
					{
						Type:           alarm.SceneInvade,
						DetectInterval: DefaultDetectInterval,
						ROIs:           []alarm.Rect{{X: 0, Y: 0, Width: 640, Height: 360}},
						Threshold:      0.05,
					},
					{
						Type:           alarm.SceneWaterColor,
						DetectInterval: 5 * time.Second,
					},
				},
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Cameras == nil {
		cfg.Cameras = []CameraConfig{}
	}
	cfg.ApplyDefaults()

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()

	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return m.getDefaults()
	}
	return m.config.Clone()
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = m.getDefaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Int("cameras", len(cfg.Cameras)).
		Msg("Config saved")
	return nil
}

// Update replaces the entire configuration after validating it
func (m *Manager) Update(cfg *Config) error {
	next := cfg.Clone()
	next.ApplyDefaults()
	if err := next.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = next
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
	return m.Save()
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// ApplyOverrides copies flag and environment values bound in v onto the
// in-memory config without writing the file.
func (m *Manager) ApplyOverrides(v *viper.Viper) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v.IsSet("server_port") {
		if port := v.GetInt("server_port"); port > 0 {
			m.config.ServerPort = port
		}
	}
	if v.IsSet("log_level") {
		if level := v.GetString("log_level"); level != "" {
			m.config.LogLevel = level
		}
	}
	if v.IsSet("log_pretty") {
		m.config.LogPretty = v.GetBool("log_pretty")
	}
	if v.IsSet("time_zone") {
		if tz := v.GetString("time_zone"); tz != "" {
			m.config.TimeZone = tz
		}
	}
}

// GetViper returns a viper instance reading the same file, with environment
// overrides under EnvPrefix. It is used by the config get/set commands.
func (m *Manager) GetViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(m.configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

// Reload re-reads the file written through a viper instance.
func (m *Manager) Reload() error {
	return m.load()
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerPort < 0 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("server_port %d out of range", c.ServerPort))
	}
	if c.TimeZone != "" && c.TimeZone != "Local" {
		if _, err := time.LoadLocation(c.TimeZone); err != nil {
			errs = append(errs, fmt.Errorf("time_zone: %w", err))
		}
	}

	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		name := cam.ID
		if name == "" {
			name = fmt.Sprintf("cameras[%d]", i)
			errs = append(errs, fmt.Errorf("%s: camera_id is required", name))
		} else if seen[cam.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate camera_id", name))
		}
		seen[cam.ID] = true

		if cam.InputURL == "" {
			errs = append(errs, fmt.Errorf("%s: input_url is required", name))
		}
		switch cam.Backend {
		case "", "opencv", "gstreamer":
		default:
			errs = append(errs, fmt.Errorf("%s: unknown backend %q", name, cam.Backend))
		}
		if cam.Queue.Size != 0 && cam.Queue.Size < 2 {
			errs = append(errs, fmt.Errorf("%s: queue.size must be at least 2", name))
		}
		for _, t := range cam.Sink.Types {
			if !knownSinks[t] {
				errs = append(errs, fmt.Errorf("%s: unknown sink type %q", name, t))
			}
		}
		for j, a := range cam.Algorithms {
			if !a.Type.Known() {
				errs = append(errs, fmt.Errorf("%s: algorithms[%d]: unknown type %d", name, j, int(a.Type)))
			}
		}
	}

	return errors.Join(errs...)
}

var knownSinks = map[string]bool{
	"http":     true,
	"mqtt":     true,
	"kafka":    true,
	"redis":    true,
	"postgres": true,
	"log":      true,
}
