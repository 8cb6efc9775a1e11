package pipeline

import "errors"

// Error kinds. Stages wrap the underlying cause with one of these so the job
// driver can tell failures apart with errors.Is.
var (
	// ErrUnsupportedConfig is returned when a codec rejects a configuration.
	// It is detected during the configuration handshake, before data flows.
	ErrUnsupportedConfig = errors.New("pipeline: unsupported config")

	// ErrCodecFailure is returned when a decoder or encoder fails mid-stream.
	ErrCodecFailure = errors.New("pipeline: codec failure")

	// ErrRemuxState is returned when the container writer is reconfigured
	// after it already emitted data and the reject policy is in effect.
	ErrRemuxState = errors.New("pipeline: remux state error")

	// ErrUploadFailure is returned when the upload transport cannot take a
	// flush unit.
	ErrUploadFailure = errors.New("pipeline: upload failure")

	// ErrProtocol is returned when a stage sees events in an order its
	// contract forbids, such as a sample before the configuration.
	ErrProtocol = errors.New("pipeline: protocol violation")
)
