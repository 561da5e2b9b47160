package soundmap

import (
	base "github.com/ghalamif/SoundMap/pkg/soundmap"
)

// Re-exported errors for convenience.
var (
	ErrOutOfRange        = base.ErrOutOfRange
	ErrNoTarget          = base.ErrNoTarget
	ErrBusy              = base.ErrBusy
	ErrSensorUnavailable = base.ErrSensorUnavailable
	ErrMalformed         = base.ErrMalformed
	ErrUnreachable       = base.ErrUnreachable
	ErrTimeout           = base.ErrTimeout
	ErrContainerIO       = base.ErrContainerIO
	ErrUpload            = base.ErrUpload
	ErrEmptySampleSet    = base.ErrEmptySampleSet
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
	ErrClosed            = base.ErrClosed
)

// Type aliases so consumers can import github.com/ghalamif/SoundMap directly.
type (
	Config             = base.Config
	Policy             = base.Policy
	RecordingConfig    = base.RecordingConfig
	AudioFormat        = base.AudioFormat
	CoordinationConfig = base.CoordinationConfig
	UploadConfig       = base.UploadConfig
	SensorConfig       = base.SensorConfig
	OPCUAConfig        = base.OPCUAConfig
	AutopilotConfig    = base.AutopilotConfig
	ArchiveConfig      = base.ArchiveConfig
	MetricsConfig      = base.MetricsConfig
	Flow               = base.Flow
	FlowOption         = base.FlowOption
	SenseOption        = base.SenseOption
	DeliverOption      = base.DeliverOption
	Runtime            = base.Runtime
	RuntimeOption      = base.RuntimeOption
	Controller         = base.Controller
	Snapshot           = base.Snapshot
	State              = base.State
	GeoPoint           = base.GeoPoint
	Target             = base.Target
	PeerLocation       = base.PeerLocation
	Reading            = base.Reading
	ReadingBatchFunc   = base.ReadingBatchFunc
	Sensor             = base.Sensor
	AudioCapture       = base.AudioCapture
	Coordinator        = base.Coordinator
	Uploader           = base.Uploader
	ReadingSink        = base.ReadingSink
	UploadQueue        = base.UploadQueue
	Observability      = base.Observability
	ContainerInfo      = base.ContainerInfo
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func SenseWith(s Sensor) SenseOption {
	return base.SenseWith(s)
}

func SenseAudio(c AudioCapture) SenseOption {
	return base.SenseAudio(c)
}

func SenseCoordinator(c Coordinator) SenseOption {
	return base.SenseCoordinator(c)
}

func SenseObservability(obs Observability) SenseOption {
	return base.SenseObservability(obs)
}

func DeliverQueue(q UploadQueue) DeliverOption {
	return base.DeliverQueue(q)
}

func DeliverUploader(u Uploader) DeliverOption {
	return base.DeliverUploader(u)
}

func DeliverSink(s ReadingSink) DeliverOption {
	return base.DeliverSink(s)
}

func DeliverCallback(name string, fn ReadingBatchFunc) DeliverOption {
	return base.DeliverCallback(name, fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithSensor(s Sensor) RuntimeOption {
	return base.WithSensor(s)
}

func WithCapture(c AudioCapture) RuntimeOption {
	return base.WithCapture(c)
}

func WithCoordinator(c Coordinator) RuntimeOption {
	return base.WithCoordinator(c)
}

func WithUploader(u Uploader) RuntimeOption {
	return base.WithUploader(u)
}

func WithReadingSink(s ReadingSink) RuntimeOption {
	return base.WithReadingSink(s)
}

func WithUploadQueue(q UploadQueue) RuntimeOption {
	return base.WithUploadQueue(q)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

// Reading sinks.
func NewCallbackSink(name string, fn ReadingBatchFunc) ReadingSink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (ReadingSink, <-chan []Reading, func()) {
	return base.NewChannelSink(name, buffer)
}

func NewMultiSink(sinks ...ReadingSink) ReadingSink {
	return base.NewMultiSink(sinks...)
}

func AsUser(name string) FlowOption {
	return base.AsUser(name)
}

func DebugMode(on bool) FlowOption {
	return base.DebugMode(on)
}

func SenseFrom(p GeoPoint) SenseOption {
	return base.SenseFrom(p)
}

// InspectContainer decodes a recorded container's header.
func InspectContainer(path string) (ContainerInfo, error) {
	return base.InspectContainer(path)
}
