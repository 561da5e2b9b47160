package recorder

import (
	"errors"
	"time"

	"github.com/ghalamif/SoundMap/internal/adapters/wav"
)

const DefaultUser = "anon"

// Level normalization bounds for the volume meter.
const (
	levelFloor   = 100
	levelCeiling = 1000
)

type Config struct {
	User   string     `yaml:"-"`
	Format wav.Format `yaml:"-"`

	OutputDir       string        `yaml:"output_dir"`
	ProximityMeters float64       `yaml:"proximity_meters"`
	Duration        time.Duration `yaml:"duration"`
	Tick            time.Duration `yaml:"tick"`
	AmplitudePeriod time.Duration `yaml:"amplitude_period"`
	ChunkPeriod     time.Duration `yaml:"chunk_period"`
	ChunkBytes      int           `yaml:"chunk_bytes"`
	GPSTimeout      time.Duration `yaml:"gps_timeout"`
	LatThreshold    float64       `yaml:"lat_threshold"`
	LngThreshold    float64       `yaml:"lng_threshold"`
	// PayloadLimit of 0 uses wav.DefaultPayloadLimit; negative disables it.
	PayloadLimit int64 `yaml:"payload_limit"`
	// Debug bypasses every proximity check.
	Debug bool `yaml:"debug"`
}

func (c *Config) ApplyDefaults() {
	if c.User == "" {
		c.User = DefaultUser
	}
	if c.Format == (wav.Format{}) {
		c.Format = wav.DefaultFormat()
	}
	if c.OutputDir == "" {
		c.OutputDir = "recordings"
	}
	if c.ProximityMeters <= 0 {
		c.ProximityMeters = 20
	}
	if c.Duration <= 0 {
		c.Duration = 30 * time.Second
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.AmplitudePeriod <= 0 {
		c.AmplitudePeriod = 100 * time.Millisecond
	}
	if c.ChunkPeriod <= 0 {
		c.ChunkPeriod = 100 * time.Millisecond
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = int(time.Duration(c.Format.ByteRate()) * c.ChunkPeriod / time.Second)
		if align := int(c.Format.BlockAlign()); c.ChunkBytes < align {
			c.ChunkBytes = align
		}
	}
	if c.GPSTimeout <= 0 {
		c.GPSTimeout = 60 * time.Second
	}
	if c.PayloadLimit == 0 {
		c.PayloadLimit = wav.DefaultPayloadLimit
	}
}

func (c *Config) Validate() error {
	if err := c.Format.Validate(); err != nil {
		return err
	}
	if c.Tick > c.Duration {
		return errors.New("tick must not exceed duration")
	}
	return nil
}

func (c *Config) totalTicks() int {
	n := int(c.Duration / c.Tick)
	if n < 1 {
		n = 1
	}
	return n
}

func normalizeLevel(amp int32) float64 {
	v := float64(amp-levelFloor) / float64(levelCeiling-levelFloor)
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
