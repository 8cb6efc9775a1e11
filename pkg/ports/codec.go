package ports

import (
	"context"
)

// HardwareAcceleration is a hint for picking a codec backend.
type HardwareAcceleration string

const (
	HardwareNoPreference HardwareAcceleration = "no-preference"
	HardwarePreferred    HardwareAcceleration = "prefer-hardware"
	SoftwarePreferred    HardwareAcceleration = "prefer-software"
)

// EncoderConfig configures a video encoder.
type EncoderConfig struct {
	Codec                string // e.g. "vp09.00.10.08"
	Width                int
	Height               int
	Bitrate              int // bits per second
	Framerate            float64
	HardwareAcceleration HardwareAcceleration
}

// VideoDecoder abstracts an asynchronous video decoder.
//
// Frames come out on Frames(), independently of the Decode calls that caused
// them. Frames() is closed after Flush once every pending frame was delivered,
// or as soon as the decoder fails; Err reports the failure.
type VideoDecoder interface {
	// IsConfigSupported reports whether Configure would accept cfg.
	IsConfigSupported(cfg ContainerConfig) bool

	// Configure prepares the decoder. It must be called before Decode.
	Configure(cfg ContainerConfig) error

	// Decode submits one sample. It may block while the decoder has too
	// many frames in flight.
	Decode(ctx context.Context, sample EncodedSample) error

	// Frames returns the output channel.
	Frames() <-chan *VideoFrame

	// Flush signals the end of input.
	Flush(ctx context.Context) error

	// Err returns the terminal error, if any, once Frames() is closed.
	Err() error

	// Close stops the decoder and closes Frames(). Frames still queued on
	// the channel belong to whoever drains it.
	Close() error
}

// VideoEncoder abstracts an asynchronous video encoder.
//
// Outputs come out on Outputs(), which is closed after Flush once everything
// was delivered, or as soon as the encoder fails.
type VideoEncoder interface {
	// IsConfigSupported reports whether Configure would accept cfg.
	IsConfigSupported(cfg EncoderConfig) bool

	// Configure prepares the encoder. It must be called before Encode.
	Configure(cfg EncoderConfig) error

	// Encode submits one frame. The encoder copies what it needs before
	// returning, so the caller may release the frame right after.
	Encode(ctx context.Context, frame *VideoFrame) error

	// Outputs returns the output channel.
	Outputs() <-chan EncodedOutput

	// Flush signals the end of input.
	Flush(ctx context.Context) error

	// Err returns the terminal error, if any, once Outputs() is closed.
	Err() error

	// Close stops the encoder and closes Outputs(), discarding pending
	// output.
	Close() error
}

// CodecFactory creates fresh codec instances. Each stage owns the instances
// it creates.
type CodecFactory interface {
	NewDecoder() VideoDecoder
	NewEncoder() VideoEncoder
}

// FrameRenderer displays decoded frames. It must not retain the frame.
type FrameRenderer interface {
	RenderFrame(frame *VideoFrame) error
}

// FrameRendererFunc adapts a function to FrameRenderer.
type FrameRendererFunc func(frame *VideoFrame) error

// RenderFrame implements FrameRenderer.
func (f FrameRendererFunc) RenderFrame(frame *VideoFrame) error {
	return f(frame)
}
