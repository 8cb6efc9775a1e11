package ports

import (
	"context"
	"io"
)

// Demuxer abstracts container parsing.
type Demuxer interface {
	// Open parses the container layout and returns the video track
	// configuration. It must be called once, before NextSample.
	Open(r io.ReadSeeker) (ContainerConfig, error)

	// NextSample returns the next sample in decode order, or io.EOF.
	NextSample() (EncodedSample, error)

	// Close releases demuxer resources.
	Close() error
}

// Muxer abstracts container writing.
type Muxer interface {
	// NewWriter starts a new container for cfg. Serialized bytes are
	// written to w, which the writer closes when it is closed itself.
	NewWriter(w io.WriteCloser, cfg ContainerConfig) (ContainerWriter, error)
}

// ContainerWriter appends encoded chunks to one container.
type ContainerWriter interface {
	// WriteChunk appends one sample.
	WriteChunk(chunk DataChunk) error

	// Close finalizes the container. It returns after every byte reached
	// the underlying writer.
	Close() error
}

// UploadUnit is one flush of the upload sink.
type UploadUnit struct {
	Filename string
	Index    int   // 0-based sequence number
	Offset   int64 // byte offset of Data in the output stream
	Data     []byte
}

// UploadSummary describes a completed upload.
type UploadSummary struct {
	Filename   string
	Units      int
	TotalBytes int64
}

// UploadTransport delivers upload units. Retrying, if any, is up to the
// implementation.
type UploadTransport interface {
	// Upload delivers one unit. Units arrive strictly in order, one at a time.
	Upload(ctx context.Context, unit UploadUnit) error

	// Complete is called once after the last unit.
	Complete(ctx context.Context, summary UploadSummary) error

	// Abort discards whatever was uploaded for filename.
	Abort(ctx context.Context, filename string) error
}
