package soundmap

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Flow assembles a Runtime in three steps: Conf loads the participant's
// configuration, Sense picks where positions, levels and targets come from,
// and Deliver picks where finished containers and readings go.
// Option conflicts are collected and reported by Deliver.
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
	errs []error

	customSensor bool
	origin       *GeoPoint
}

// FlowOption adjusts the configuration before any adapter is chosen.
type FlowOption func(*Flow)

// SenseOption picks the field side: sensor, audio capture, coordination.
type SenseOption func(*Flow)

// DeliverOption picks the delivery side: upload queue, uploader, archive.
type DeliverOption func(*Flow)

// Conf loads the YAML config at path.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options appends raw RuntimeOption values.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

func (f *Flow) Sense(opts ...SenseOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Deliver applies opts and builds the Runtime. A start position combined with
// an injected sensor is rejected.
func (f *Flow) Deliver(opts ...DeliverOption) (*Runtime, error) {
	if f == nil {
		return nil, errors.New("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.origin != nil && f.customSensor {
		f.errs = append(f.errs, errors.New("start position only applies to the simulated sensor, but a custom sensor was injected"))
	}
	if err := errors.Join(f.errs...); err != nil {
		return nil, err
	}
	return NewRuntime(f.cfg, f.opts...)
}

// Run builds the Runtime and blocks until ctx is done.
func (f *Flow) Run(ctx context.Context, opts ...DeliverOption) error {
	rt, err := f.Deliver(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(opts...)
		}
	}
}

// AsUser overrides the participant name sent to the coordination service and
// stamped on every reading. An empty name keeps the configured one.
func AsUser(name string) FlowOption {
	return func(f *Flow) {
		if f != nil && name != "" {
			f.cfg.User = name
		}
	}
}

// DebugMode lifts the proximity checks on Start and during the countdown.
func DebugMode(on bool) FlowOption {
	return func(f *Flow) {
		if f != nil && on {
			f.cfg.Recording.Debug = true
		}
	}
}

// SenseWith injects a custom level/position source.
func SenseWith(s Sensor) SenseOption {
	return func(f *Flow) {
		if f != nil && s != nil {
			f.customSensor = true
			f.appendOptions(WithSensor(s))
		}
	}
}

// SenseFrom places the simulated sensor at p. It is an error for any other
// sensor kind or for coordinates outside WGS 84 bounds.
func SenseFrom(p GeoPoint) SenseOption {
	return func(f *Flow) {
		if f == nil {
			return
		}
		if kind := f.cfg.Sensor.Kind; kind != "" && kind != "simulated" {
			f.errs = append(f.errs, fmt.Errorf("start position only applies to the simulated sensor, configured kind is %q", kind))
			return
		}
		if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) || math.Abs(p.Latitude) > 90 || math.Abs(p.Longitude) > 180 {
			f.errs = append(f.errs, fmt.Errorf("start position %s is out of range", p))
			return
		}
		f.origin = &p
		f.cfg.Sensor.Simulated.Origin = p
	}
}

func SenseAudio(c AudioCapture) SenseOption {
	return func(f *Flow) {
		if f != nil && c != nil {
			f.appendOptions(WithCapture(c))
		}
	}
}

func SenseCoordinator(c Coordinator) SenseOption {
	return func(f *Flow) {
		if f != nil && c != nil {
			f.appendOptions(WithCoordinator(c))
		}
	}
}

// SenseObservability replaces the Prometheus/slog stack.
func SenseObservability(obs Observability) SenseOption {
	return func(f *Flow) {
		if f != nil && obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

func DeliverQueue(q UploadQueue) DeliverOption {
	return func(f *Flow) {
		if f != nil && q != nil {
			f.appendOptions(WithUploadQueue(q))
		}
	}
}

// DeliverUploader replaces the multipart HTTP uploader.
func DeliverUploader(u Uploader) DeliverOption {
	return func(f *Flow) {
		if f != nil && u != nil {
			f.appendOptions(WithUploader(u))
		}
	}
}

// DeliverSink archives every finished reading into s.
func DeliverSink(s ReadingSink) DeliverOption {
	return func(f *Flow) {
		if f != nil && s != nil {
			f.appendOptions(WithReadingSink(s))
		}
	}
}

func DeliverCallback(name string, fn ReadingBatchFunc) DeliverOption {
	return func(f *Flow) {
		if f != nil && fn != nil {
			f.appendOptions(WithReadingSink(NewCallbackSink(name, fn)))
		}
	}
}

func (f *Flow) appendOptions(opts ...RuntimeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
