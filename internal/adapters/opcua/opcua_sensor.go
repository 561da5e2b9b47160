package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/SoundMap/internal/domain"
	"github.com/ghalamif/SoundMap/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session
// against a field device exposing level and position variables.
type Config struct {
	Endpoint        string        `yaml:"endpoint"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SecurityMode    string        `yaml:"security_mode"`
	SecurityPolicy  string        `yaml:"security_policy"`
	ApplicationName string        `yaml:"application_name"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	Nodes           NodeConfig    `yaml:"nodes"`
}

// NodeConfig names the variables read on each poll. FixNode is optional; when
// set, a false or zero value means the device has no position fix.
type NodeConfig struct {
	Amplitude string `yaml:"amplitude"`
	Latitude  string `yaml:"latitude"`
	Longitude string `yaml:"longitude"`
	Fix       string `yaml:"fix"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "SoundMap Edge"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.Nodes.Amplitude == "" || c.Nodes.Latitude == "" || c.Nodes.Longitude == "" {
		return errors.New("amplitude, latitude and longitude nodes are required")
	}
	for _, id := range []string{c.Nodes.Amplitude, c.Nodes.Latitude, c.Nodes.Longitude, c.Nodes.Fix} {
		if id == "" {
			continue
		}
		if _, err := ua.ParseNodeID(id); err != nil {
			return fmt.Errorf("parse node id %q: %w", id, err)
		}
	}
	return nil
}

// Sensor polls an OPC UA server for the microphone level and position. Reads
// are synchronous and bounded by ReadTimeout.
type Sensor struct {
	cfg   Config
	obs   ports.Observability
	nodes []*ua.NodeID

	mu     sync.Mutex
	client *opcua.Client
}

func NewSensor(cfg Config, obs ports.Observability) (*Sensor, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ids := []string{cfg.Nodes.Amplitude, cfg.Nodes.Latitude, cfg.Nodes.Longitude}
	if cfg.Nodes.Fix != "" {
		ids = append(ids, cfg.Nodes.Fix)
	}
	nodes := make([]*ua.NodeID, 0, len(ids))
	for _, id := range ids {
		n, err := ua.ParseNodeID(id)
		if err != nil {
			return nil, fmt.Errorf("parse node id %q: %w", id, err)
		}
		nodes = append(nodes, n)
	}
	return &Sensor{cfg: cfg, obs: obs, nodes: nodes}, nil
}

func (s *Sensor) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return fmt.Errorf("opcua sensor already connected")
	}

	client, err := opcua.NewClient(s.cfg.Endpoint, s.buildClientOptions()...)
	if err != nil {
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("opcua connect: %w", err)
	}
	s.client = client
	return nil
}

func (s *Sensor) Close(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ReadAmplitude returns 0 when the device cannot be read.
func (s *Sensor) ReadAmplitude() int32 {
	values, err := s.read(s.nodes[:1])
	if err != nil {
		s.warn("opcua_read_amplitude_failed", err)
		return 0
	}
	amp := values[0]
	if amp < 0 {
		amp = -amp
	}
	return int32(amp)
}

func (s *Sensor) ReadPosition() (domain.GeoPoint, bool) {
	values, err := s.read(s.nodes[1:])
	if err != nil {
		s.warn("opcua_read_position_failed", err)
		return domain.GeoPoint{}, false
	}
	if len(values) == 3 && values[2] == 0 {
		return domain.GeoPoint{}, false
	}
	return domain.GeoPoint{Latitude: values[0], Longitude: values[1]}, true
}

func (s *Sensor) read(nodes []*ua.NodeID) ([]float64, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return nil, domain.ErrSensorUnavailable
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReadTimeout)
	defer cancel()

	req := &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnNeither,
		NodesToRead:        make([]*ua.ReadValueID, 0, len(nodes)),
	}
	for _, n := range nodes {
		req.NodesToRead = append(req.NodesToRead, &ua.ReadValueID{NodeID: n, AttributeID: ua.AttributeIDValue})
	}

	resp, err := client.Read(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSensorUnavailable, err)
	}
	return decodeResults(resp.Results, len(nodes))
}

func decodeResults(results []*ua.DataValue, want int) ([]float64, error) {
	if len(results) != want {
		return nil, fmt.Errorf("%w: expected %d results, got %d", domain.ErrSensorUnavailable, want, len(results))
	}
	out := make([]float64, 0, want)
	for i, r := range results {
		if r == nil || r.Status != ua.StatusOK {
			return nil, fmt.Errorf("%w: node %d bad status", domain.ErrSensorUnavailable, i)
		}
		v, ok := variantToFloat(r.Value)
		if !ok {
			return nil, fmt.Errorf("%w: node %d unsupported type %T", domain.ErrSensorUnavailable, i, r.Value.Value())
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Sensor) warn(msg string, err error) {
	if s.obs != nil {
		s.obs.LogWarn(msg, err, ports.Field{Key: "endpoint", Value: s.cfg.Endpoint})
	}
}

func (s *Sensor) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(s.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(s.cfg.SecurityPolicy)),
		opcua.ApplicationName(s.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if s.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(s.cfg.Username, s.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Sensor = (*Sensor)(nil)
