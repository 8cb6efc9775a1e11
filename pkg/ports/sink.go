package ports

import (
	"image"
)

// DebugSink abstracts debug output for intermediate results.
type DebugSink interface {
	// Enabled returns true if debug output is enabled.
	Enabled() bool

	// SaveConfigJSON saves a codec configuration under name (e.g. "input").
	SaveConfigJSON(name string, data []byte) error

	// SaveRenderedFrame saves a rendered frame snapshot.
	SaveRenderedFrame(index int, img image.Image) error

	// SaveUploadManifest saves the list of upload units as JSON.
	SaveUploadManifest(data []byte) error
}
