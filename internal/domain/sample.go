package domain

import "time"

// IntensitySample is one amplitude reading tagged with the fix it was taken at.
type IntensitySample struct {
	Intensity int32    `json:"intensity"`
	Location  GeoPoint `json:"location"`
}

// Target is the sampling location assigned by the coordination service.
type Target struct {
	Tag      string   `json:"tag"`
	Location GeoPoint `json:"location"`
}

// PeerLocation is one roster entry for another active participant.
type PeerLocation struct {
	Name     string   `json:"name"`
	Location GeoPoint `json:"location"`
}

// Reading is the canonical result of one finalized recording session.
type Reading struct {
	SessionID     string        `json:"session_id"`
	User          string        `json:"user"`
	TargetTag     string        `json:"target_tag"`
	Intensity     float64       `json:"intensity"`
	Accepted      int           `json:"accepted"`
	Rejected      int           `json:"rejected"`
	LowConfidence bool          `json:"low_confidence"`
	MeanLocation  GeoPoint      `json:"mean_location"`
	Location      GeoPoint      `json:"location"`
	FilePath      string        `json:"file_path"`
	PayloadBytes  int64         `json:"payload_bytes"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Aborted       bool          `json:"aborted"`
	AbortReason   string        `json:"abort_reason,omitempty"`
	UploadResult  string        `json:"upload_result,omitempty"`
	UploadError   string        `json:"upload_error,omitempty"`
}

// UploadJob hands a finished container to the upload worker.
type UploadJob struct {
	Path     string
	User     string
	Location GeoPoint
	Reading  *Reading
}
