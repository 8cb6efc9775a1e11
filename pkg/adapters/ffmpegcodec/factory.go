package ffmpegcodec

import (
	"github.com/user/webmshrink/pkg/ports"
)

// Options configures a Factory.
type Options struct {
	// FFmpegPath is an optional custom path to the ffmpeg binary.
	FFmpegPath string

	// HardwareAcceleration orders decoder backends. Encoders follow the
	// preference of their EncoderConfig.
	HardwareAcceleration ports.HardwareAcceleration

	// MaxFrames bounds the frames each decoder hands out at once.
	MaxFrames int
}

// Factory implements ports.CodecFactory.
type Factory struct {
	ffmpegPath string
	opts       Options
}

// NewFactory locates ffmpeg and returns a codec factory.
func NewFactory(opts Options) (*Factory, error) {
	path, err := FindFFmpeg(opts.FFmpegPath)
	if err != nil {
		return nil, err
	}
	return &Factory{ffmpegPath: path, opts: opts}, nil
}

// FFmpegPath returns the binary the factory uses.
func (f *Factory) FFmpegPath() string {
	return f.ffmpegPath
}

// NewDecoder implements ports.CodecFactory.
func (f *Factory) NewDecoder() ports.VideoDecoder {
	return NewDecoder(f.ffmpegPath, f.opts.HardwareAcceleration, f.opts.MaxFrames)
}

// NewEncoder implements ports.CodecFactory.
func (f *Factory) NewEncoder() ports.VideoEncoder {
	return NewEncoder(f.ffmpegPath)
}

var _ ports.CodecFactory = (*Factory)(nil)
