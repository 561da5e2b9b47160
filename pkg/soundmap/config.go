package soundmap

import (
	"github.com/ghalamif/SoundMap/internal/adapters/coordination"
	"github.com/ghalamif/SoundMap/internal/adapters/observability"
	"github.com/ghalamif/SoundMap/internal/adapters/opcua"
	"github.com/ghalamif/SoundMap/internal/adapters/simulator"
	"github.com/ghalamif/SoundMap/internal/adapters/upload"
	"github.com/ghalamif/SoundMap/internal/adapters/wav"
	"github.com/ghalamif/SoundMap/internal/app/config"
	"github.com/ghalamif/SoundMap/internal/app/recorder"
	"github.com/ghalamif/SoundMap/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically. Call Prepare before use when the
// value was not produced by LoadConfig.
type Config = config.Config

type (
	// Policy bounds the upload queue.
	Policy = ports.Policy
	// RecordingConfig tunes the session timing and proximity gate.
	RecordingConfig = recorder.Config
	// AudioFormat describes the PCM stream written to each container.
	AudioFormat = wav.Format
	// CoordinationConfig points at the target/roster service.
	CoordinationConfig = coordination.Config
	// UploadConfig points at the audio upload endpoint.
	UploadConfig = upload.Config
	// SensorConfig selects the simulated or OPC UA field device.
	SensorConfig = config.SensorConfig
	// SimulatedSensorConfig configures the bench sensor.
	SimulatedSensorConfig = simulator.SensorConfig
	// OPCUAConfig holds connection + node details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig names the amplitude and position nodes.
	OPCUANodeConfig = opcua.NodeConfig
	// AutopilotConfig drives unattended polling and auto-start.
	AutopilotConfig = config.AutopilotConfig
	// ArchiveConfig configures the Postgres reading archive.
	ArchiveConfig = config.ArchiveConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// LogConfig selects the slog handler and level.
	LogConfig = observability.LogConfig
	// TracingConfig configures the OpenTelemetry exporter.
	TracingConfig = observability.TracingConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
