package ports

import (
	"bytes"
	"image"
	"sync"
	"time"
)

// ContainerConfig describes a video track: the codec string, the coded
// dimensions and an optional codec-specific description (e.g. avcC bytes).
type ContainerConfig struct {
	Codec       string
	Width       int
	Height      int
	Description []byte
}

// Equal reports whether two configurations describe the same output format.
func (c ContainerConfig) Equal(o ContainerConfig) bool {
	return c.Codec == o.Codec &&
		c.Width == o.Width &&
		c.Height == o.Height &&
		bytes.Equal(c.Description, o.Description)
}

// ChunkType distinguishes self-contained samples from difference-coded ones.
type ChunkType int

const (
	// ChunkDelta is a difference-encoded sample.
	ChunkDelta ChunkType = iota
	// ChunkKey is a self-contained sample.
	ChunkKey
)

// String returns the string representation of the chunk type.
func (t ChunkType) String() string {
	if t == ChunkKey {
		return "key"
	}
	return "delta"
}

// EncodedSample is one compressed sample extracted from the input container.
type EncodedSample struct {
	Data      []byte
	Timestamp time.Duration
	Duration  time.Duration
	Type      ChunkType
}

// DemuxEvent is what a demuxer emits: exactly one Config event, then samples.
// Exactly one of Config and Sample is set.
type DemuxEvent struct {
	Config *ContainerConfig
	Sample *EncodedSample
}

// VideoFrame is a decoded RGBA frame. It has a single owner at a time and must
// be released exactly once by whoever holds it last; decoders hand out a
// bounded number of frames and block until earlier ones come back.
type VideoFrame struct {
	Image     *image.RGBA
	Timestamp time.Duration
	Duration  time.Duration

	once    sync.Once
	release func()
}

// NewVideoFrame wraps img as a frame. release may be nil.
func NewVideoFrame(img *image.RGBA, ts, dur time.Duration, release func()) *VideoFrame {
	return &VideoFrame{
		Image:     img,
		Timestamp: ts,
		Duration:  dur,
		release:   release,
	}
}

// Width returns the frame width in pixels.
func (f *VideoFrame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *VideoFrame) Height() int {
	return f.Image.Bounds().Dy()
}

// Release hands the frame's buffer back to its decoder. Calling it more than
// once is harmless.
func (f *VideoFrame) Release() {
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// DataChunk is one encoded output sample.
type DataChunk struct {
	Data      []byte
	Type      ChunkType
	Timestamp time.Duration
	Duration  time.Duration
}

// EncodedChunk is either a configuration change or a data chunk.
// A configuration change always precedes the data it describes.
type EncodedChunk struct {
	Config *ContainerConfig
	Data   *DataChunk
}

// IsConfig reports whether the chunk is a configuration change event.
func (c EncodedChunk) IsConfig() bool {
	return c.Config != nil
}

// ConfigChange builds a configuration change event.
func ConfigChange(cfg ContainerConfig) EncodedChunk {
	return EncodedChunk{Config: &cfg}
}

// Data wraps a data chunk.
func Data(d DataChunk) EncodedChunk {
	return EncodedChunk{Data: &d}
}

// ContainerSegment is a run of serialized container bytes at Position in the
// output byte stream.
type ContainerSegment struct {
	Data     []byte
	Position int64
}

// EncodedOutput is what an encoder hands back per encoded frame. Config is
// set when the encoder knows its output format, which it must report at
// least on the first output.
type EncodedOutput struct {
	Chunk  DataChunk
	Config *ContainerConfig
}
