package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/SoundMap/internal/adapters/coordination"
	"github.com/ghalamif/SoundMap/internal/adapters/observability"
	"github.com/ghalamif/SoundMap/internal/adapters/opcua"
	"github.com/ghalamif/SoundMap/internal/adapters/simulator"
	"github.com/ghalamif/SoundMap/internal/adapters/upload"
	"github.com/ghalamif/SoundMap/internal/adapters/wav"
	"github.com/ghalamif/SoundMap/internal/app/recorder"
	"github.com/ghalamif/SoundMap/internal/ports"
)

type Config struct {
	User         string                      `yaml:"user"`
	Policy       ports.Policy                `yaml:"policy"`
	Recording    recorder.Config             `yaml:"recording"`
	Audio        wav.Format                  `yaml:"audio"`
	Coordination coordination.Config         `yaml:"coordination"`
	Upload       upload.Config               `yaml:"upload"`
	Sensor       SensorConfig                `yaml:"sensor"`
	Autopilot    AutopilotConfig             `yaml:"autopilot"`
	Archive      ArchiveConfig               `yaml:"archive"`
	Metrics      MetricsConfig               `yaml:"metrics"`
	Logging      observability.LogConfig     `yaml:"logging"`
	Tracing      observability.TracingConfig `yaml:"tracing"`
}

// SensorConfig selects the field device. Kind is "simulated" or "opcua".
type SensorConfig struct {
	Kind      string                 `yaml:"kind"`
	ToneHz    float64                `yaml:"tone_hz"`
	Simulated simulator.SensorConfig `yaml:"simulated"`
	OPCUA     opcua.Config           `yaml:"opcua"`
}

// AutopilotConfig drives unattended units: poll while idle and start
// recording as soon as the unit is in range of its target.
type AutopilotConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	AutoStart    bool          `yaml:"auto_start"`
}

// ArchiveConfig enables the Postgres reading archive when ConnString is set.
type ArchiveConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Prepare fills defaults and validates. Load calls it; programmatic callers
// should too.
func (c *Config) Prepare() error {
	c.applyDefaults()
	return c.validate()
}

func (c *Config) applyDefaults() {
	if c.User == "" {
		c.User = recorder.DefaultUser
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 16
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 4
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 100 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "drop"
	}
	if c.Audio == (wav.Format{}) {
		c.Audio = wav.DefaultFormat()
	}

	c.Recording.User = c.User
	c.Recording.Format = c.Audio
	c.Recording.ApplyDefaults()
	c.Coordination.ApplyDefaults()
	c.Upload.ApplyDefaults()

	if c.Sensor.Kind == "" {
		c.Sensor.Kind = "simulated"
	}
	if c.Sensor.ToneHz <= 0 {
		c.Sensor.ToneHz = 440
	}
	c.Sensor.Simulated.ApplyDefaults()
	c.Sensor.OPCUA.ApplyDefaults()

	if c.Autopilot.PollInterval <= 0 {
		c.Autopilot.PollInterval = 10 * time.Second
	}
	if c.Archive.Table == "" {
		c.Archive.Table = "readings"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	c.Tracing.ApplyDefaults()
}

func (c *Config) validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}
	if err := c.Coordination.Validate(); err != nil {
		return fmt.Errorf("coordination config: %w", err)
	}
	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}
	switch c.Policy.OnQueueFull {
	case "drop", "block":
	default:
		return fmt.Errorf("policy.on_queue_full %q must be drop or block", c.Policy.OnQueueFull)
	}
	switch c.Sensor.Kind {
	case "simulated":
	case "opcua":
		if err := c.Sensor.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	default:
		return fmt.Errorf("sensor.kind %q must be simulated or opcua", c.Sensor.Kind)
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	return nil
}
