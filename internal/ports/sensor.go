package ports

import "github.com/ghalamif/SoundMap/internal/domain"

// Sensor is the field device: a microphone level meter plus a position source.
type Sensor interface {
	// ReadAmplitude returns the peak amplitude since the previous call.
	ReadAmplitude() int32
	// ReadPosition reports false when there is no fix.
	ReadPosition() (domain.GeoPoint, bool)
}

// AudioCapture streams raw PCM bytes while a session is recording.
type AudioCapture interface {
	Start() error
	Read(p []byte) (int, error)
	Stop() error
}
