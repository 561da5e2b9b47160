package domain

import "errors"

var (
	// ErrOutOfRange means the participant is too far from the assigned target.
	ErrOutOfRange = errors.New("soundmap: out of range of target")
	// ErrNoTarget means no target has been assigned yet.
	ErrNoTarget = errors.New("soundmap: no target assigned")
	// ErrBusy is returned for requests that are not allowed while recording.
	ErrBusy = errors.New("soundmap: recording in progress")
	// ErrSensorUnavailable means the position source has no usable fix.
	ErrSensorUnavailable = errors.New("soundmap: sensor unavailable")

	// ErrMalformed means the coordination service answered with an unparsable line.
	ErrMalformed = errors.New("soundmap: malformed coordination response")
	// ErrUnreachable means the coordination service could not be reached.
	ErrUnreachable = errors.New("soundmap: coordination service unreachable")
	// ErrTimeout means the service kept answering with the wait sentinel.
	ErrTimeout = errors.New("soundmap: coordination wait retries exhausted")

	// ErrContainerIO is fatal for the current session only.
	ErrContainerIO = errors.New("soundmap: container i/o failure")
	// ErrUpload is reported for visibility; the session is already finalized.
	ErrUpload = errors.New("soundmap: upload failed")

	// ErrEmptySampleSet is returned when aggregating a session without samples.
	ErrEmptySampleSet = errors.New("soundmap: empty sample set")
)
