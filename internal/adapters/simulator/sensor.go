package simulator

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/ghalamif/SoundMap/internal/domain"
	"github.com/ghalamif/SoundMap/internal/ports"
)

// metresPerDegree is the length of one degree of latitude.
const metresPerDegree = 111_195.0

type SensorConfig struct {
	Origin       domain.GeoPoint `yaml:"origin"`
	JitterMeters float64         `yaml:"jitter_meters"`
	AmplitudeMin int32           `yaml:"amplitude_min"`
	AmplitudeMax int32           `yaml:"amplitude_max"`
	Seed         uint64          `yaml:"seed"`
}

func (c *SensorConfig) ApplyDefaults() {
	if c.JitterMeters < 0 {
		c.JitterMeters = 0
	}
	if c.AmplitudeMax <= 0 {
		c.AmplitudeMax = 1000
	}
	if c.AmplitudeMin < 0 || c.AmplitudeMin > c.AmplitudeMax {
		c.AmplitudeMin = 0
	}
}

// Sensor produces a position near a movable point and a random level.
type Sensor struct {
	cfg SensorConfig

	mu    sync.Mutex
	rng   *rand.Rand
	pos   domain.GeoPoint
	fix   bool
	level int32
	fixed bool
}

func NewSensor(cfg SensorConfig) *Sensor {
	cfg.ApplyDefaults()
	return &Sensor{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		pos: cfg.Origin,
		fix: true,
	}
}

// MoveTo relocates the simulated device.
func (s *Sensor) MoveTo(p domain.GeoPoint) {
	s.mu.Lock()
	s.pos = p
	s.fix = true
	s.mu.Unlock()
}

// LoseFix makes ReadPosition report no fix until the next MoveTo.
func (s *Sensor) LoseFix() {
	s.mu.Lock()
	s.fix = false
	s.mu.Unlock()
}

// HoldLevel pins the amplitude to a constant.
func (s *Sensor) HoldLevel(v int32) {
	s.mu.Lock()
	s.level = v
	s.fixed = true
	s.mu.Unlock()
}

func (s *Sensor) ReadAmplitude() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fixed {
		return s.level
	}
	span := s.cfg.AmplitudeMax - s.cfg.AmplitudeMin
	if span <= 0 {
		return s.cfg.AmplitudeMin
	}
	return s.cfg.AmplitudeMin + s.rng.Int32N(span+1)
}

func (s *Sensor) ReadPosition() (domain.GeoPoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fix {
		return domain.GeoPoint{}, false
	}
	if s.cfg.JitterMeters == 0 {
		return s.pos, true
	}
	dLat := (s.rng.Float64()*2 - 1) * s.cfg.JitterMeters / metresPerDegree
	dLng := (s.rng.Float64()*2 - 1) * s.cfg.JitterMeters / (metresPerDegree * math.Max(math.Cos(s.pos.Latitude*math.Pi/180), 1e-6))
	return domain.GeoPoint{Latitude: s.pos.Latitude + dLat, Longitude: s.pos.Longitude + dLng}, true
}

var _ ports.Sensor = (*Sensor)(nil)
