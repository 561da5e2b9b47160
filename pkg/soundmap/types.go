package soundmap

import (
	"github.com/ghalamif/SoundMap/internal/app/recorder"
	"github.com/ghalamif/SoundMap/internal/domain"
	"github.com/ghalamif/SoundMap/internal/ports"
)

// GeoPoint is a WGS 84 fix.
type GeoPoint = domain.GeoPoint

// Target is the location the coordination service asked this unit to record.
type Target = domain.Target

// PeerLocation is another participant's last reported position.
type PeerLocation = domain.PeerLocation

// Reading is the outcome of one finished recording session.
type Reading = domain.Reading

// UploadJob is a finished container waiting for the upload worker.
type UploadJob = domain.UploadJob

// Sensor reports microphone amplitude and position (GPS receiver, OPC UA tags, simulators).
type Sensor = ports.Sensor

// AudioCapture streams raw PCM while a session records.
type AudioCapture = ports.AudioCapture

// Coordinator assigns targets and lists peers.
type Coordinator = ports.Coordinator

// Uploader submits finished containers.
type Uploader = ports.Uploader

// ReadingSink archives finalized readings in batches.
type ReadingSink = ports.ReadingSink

// UploadQueue is the bounded queue between the controller and the upload worker.
type UploadQueue = ports.UploadQueue

// Observability emits logs and metrics about sessions, polls and uploads.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Controller is the recording state machine driven by the runtime.
type Controller = recorder.Controller

// State is a controller state.
type State = recorder.State

// Snapshot is a point-in-time view of the controller.
type Snapshot = recorder.Snapshot

const (
	StateIdle       = recorder.Idle
	StateArmed      = recorder.Armed
	StateRecording  = recorder.Recording
	StateFinalizing = recorder.Finalizing
	StateAborted    = recorder.Aborted
)

// Errors callers can match with errors.Is.
var (
	ErrOutOfRange        = domain.ErrOutOfRange
	ErrNoTarget          = domain.ErrNoTarget
	ErrBusy              = domain.ErrBusy
	ErrSensorUnavailable = domain.ErrSensorUnavailable
	ErrMalformed         = domain.ErrMalformed
	ErrUnreachable       = domain.ErrUnreachable
	ErrTimeout           = domain.ErrTimeout
	ErrContainerIO       = domain.ErrContainerIO
	ErrUpload            = domain.ErrUpload
	ErrEmptySampleSet    = domain.ErrEmptySampleSet
	ErrIllegalTransition = recorder.ErrIllegalTransition
	ErrClosed            = recorder.ErrClosed
)
