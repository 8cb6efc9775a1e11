// Package encode implements the encode stage: frames in, encoded chunks out,
// with a configuration change event ahead of the data it describes.
package encode

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/user/webmshrink/pkg/metrics"
	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
)

// Stage re-encodes decoded frames.
type Stage struct {
	encoder ports.VideoEncoder
	config  ports.EncoderConfig
	logger  ports.Logger

	frames  atomic.Int64
	chunks  atomic.Int64
	configs atomic.Int64
}

// New creates a new encode stage. When cfg has no dimensions, the encoder is
// configured with the size of the first frame.
func New(encoder ports.VideoEncoder, cfg ports.EncoderConfig, logger ports.Logger) *Stage {
	return &Stage{
		encoder: encoder,
		config:  cfg,
		logger:  logger.WithComponent("encode"),
	}
}

// Run implements pipeline.Stage. Every frame read from in is released once
// the encoder took it, whether or not encoding succeeded.
func (s *Stage) Run(ctx context.Context, in <-chan *ports.VideoFrame, out chan<- ports.EncodedChunk) error {
	defer s.closeEncoder()

	var first *ports.VideoFrame
	if s.config.Width <= 0 || s.config.Height <= 0 {
		f, ok, err := pipeline.Receive(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Debug("No frames to encode")
			return nil
		}
		s.config.Width, s.config.Height = f.Width(), f.Height()
		first = f
	}

	if err := s.configure(); err != nil {
		if first != nil {
			first.Release()
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if first != nil {
			if err := s.encode(gctx, first); err != nil {
				return err
			}
		}
		return s.submit(gctx, in)
	})
	g.Go(func() error {
		return s.forward(gctx, out)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Debug("Encoded %d frames into %d chunks", s.frames.Load(), s.chunks.Load())
	return nil
}

// Frames returns the number of frames submitted to the encoder.
func (s *Stage) Frames() int64 {
	return s.frames.Load()
}

// Chunks returns the number of data chunks emitted.
func (s *Stage) Chunks() int64 {
	return s.chunks.Load()
}

func (s *Stage) configure() error {
	cfg := s.config
	if !s.encoder.IsConfigSupported(cfg) {
		return fmt.Errorf("%w: encoder cannot produce %s %dx%d at %d bps",
			pipeline.ErrUnsupportedConfig, cfg.Codec, cfg.Width, cfg.Height, cfg.Bitrate)
	}
	if err := s.encoder.Configure(cfg); err != nil {
		if errors.Is(err, pipeline.ErrUnsupportedConfig) {
			return err
		}
		return fmt.Errorf("%w: configure encoder for %s: %v", pipeline.ErrUnsupportedConfig, cfg.Codec, err)
	}
	s.logger.Debug("Encoder configured: %s %dx%d, %d bps, %.2f fps (%s)",
		cfg.Codec, cfg.Width, cfg.Height, cfg.Bitrate, cfg.Framerate, cfg.HardwareAcceleration)
	return nil
}

func (s *Stage) submit(ctx context.Context, in <-chan *ports.VideoFrame) error {
	for {
		f, ok, err := pipeline.Receive(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := s.encode(ctx, f); err != nil {
			return err
		}
	}

	if err := s.encoder.Flush(ctx); err != nil {
		return codecError("flush encoder", err)
	}
	return nil
}

func (s *Stage) encode(ctx context.Context, f *ports.VideoFrame) error {
	err := s.encoder.Encode(ctx, f)
	ts := f.Timestamp
	f.Release()
	if err != nil {
		return codecError(fmt.Sprintf("encode frame at %v", ts), err)
	}
	s.frames.Add(1)
	metrics.FramesEncoded.Inc()
	return nil
}

// forward turns encoder outputs into chunks. A configuration change event
// goes out before the first data chunk and whenever the format changes.
func (s *Stage) forward(ctx context.Context, out chan<- ports.EncodedChunk) error {
	var current *ports.ContainerConfig

	outputs := s.encoder.Outputs()
	for {
		o, ok, err := pipeline.Receive(ctx, outputs)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		next := o.Config
		if next == nil && current == nil {
			next = &ports.ContainerConfig{Codec: s.config.Codec, Width: s.config.Width, Height: s.config.Height}
		}
		if next != nil && (current == nil || !current.Equal(*next)) {
			cfg := *next
			if err := pipeline.Send(ctx, out, ports.ConfigChange(cfg)); err != nil {
				return err
			}
			if current != nil {
				s.logger.Debug("Output format changed to %s %dx%d", cfg.Codec, cfg.Width, cfg.Height)
			}
			current = &cfg
			s.configs.Add(1)
		}

		if err := pipeline.Send(ctx, out, ports.Data(o.Chunk)); err != nil {
			return err
		}
		s.chunks.Add(1)
	}

	if err := s.encoder.Err(); err != nil {
		return codecError("encoder failed", err)
	}
	return nil
}

func (s *Stage) closeEncoder() {
	if err := s.encoder.Close(); err != nil {
		s.logger.Debug("Close encoder: %v", err)
	}
}

func codecError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", pipeline.ErrCodecFailure, op, err)
}

var _ pipeline.Stage[*ports.VideoFrame, ports.EncodedChunk] = (*Stage)(nil)
