// Package decode implements the decode stage: it configures a video decoder
// from the demuxed track configuration and turns samples into frames.
package decode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/webmshrink/pkg/metrics"
	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
)

// DefaultReorderDepth is the number of frames held back to restore
// presentation order after B-frame reordering.
const DefaultReorderDepth = 4

// Stage decodes samples into frames with non-decreasing timestamps.
type Stage struct {
	decoder      ports.VideoDecoder
	logger       ports.Logger
	reorderDepth int

	frames  atomic.Int64
	clamped atomic.Int64
}

// New creates a new decode stage. A negative reorderDepth selects
// DefaultReorderDepth; zero disables reordering.
func New(decoder ports.VideoDecoder, reorderDepth int, logger ports.Logger) *Stage {
	if reorderDepth < 0 {
		reorderDepth = DefaultReorderDepth
	}
	return &Stage{
		decoder:      decoder,
		logger:       logger.WithComponent("decode"),
		reorderDepth: reorderDepth,
	}
}

// Run implements pipeline.Stage. The first event must be the track
// configuration; it is accepted or rejected before any sample reaches the
// decoder.
func (s *Stage) Run(ctx context.Context, in <-chan ports.DemuxEvent, out chan<- *ports.VideoFrame) error {
	defer s.closeDecoder()

	ev, ok, err := pipeline.Receive(ctx, in)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Debug("Input ended before configuration")
		return nil
	}
	if ev.Config == nil {
		return fmt.Errorf("%w: sample received before configuration", pipeline.ErrProtocol)
	}
	if err := s.configure(*ev.Config); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.submit(gctx, in)
	})
	g.Go(func() error {
		return s.forward(gctx, out)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Debug("Decoded %d frames", s.frames.Load())
	return nil
}

// Frames returns the number of frames emitted so far.
func (s *Stage) Frames() int64 {
	return s.frames.Load()
}

func (s *Stage) configure(cfg ports.ContainerConfig) error {
	if !s.decoder.IsConfigSupported(cfg) {
		return fmt.Errorf("%w: decoder cannot handle %s %dx%d",
			pipeline.ErrUnsupportedConfig, cfg.Codec, cfg.Width, cfg.Height)
	}
	if err := s.decoder.Configure(cfg); err != nil {
		if errors.Is(err, pipeline.ErrUnsupportedConfig) {
			return err
		}
		return fmt.Errorf("%w: configure decoder for %s: %v", pipeline.ErrUnsupportedConfig, cfg.Codec, err)
	}
	s.logger.Debug("Decoder configured for %s %dx%d", cfg.Codec, cfg.Width, cfg.Height)
	return nil
}

// submit feeds samples to the decoder and flushes it at the end of input.
func (s *Stage) submit(ctx context.Context, in <-chan ports.DemuxEvent) error {
	for {
		ev, ok, err := pipeline.Receive(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if ev.Config != nil {
			return fmt.Errorf("%w: duplicate configuration", pipeline.ErrProtocol)
		}
		if ev.Sample == nil {
			continue
		}
		if err := s.decoder.Decode(ctx, *ev.Sample); err != nil {
			return codecError(fmt.Sprintf("decode sample at %v", ev.Sample.Timestamp), err)
		}
	}

	if err := s.decoder.Flush(ctx); err != nil {
		return codecError("flush decoder", err)
	}
	return nil
}

// forward moves decoded frames through the reorder window and on to out.
func (s *Stage) forward(ctx context.Context, out chan<- *ports.VideoFrame) error {
	w := &reorderWindow{depth: s.reorderDepth}
	defer w.releaseAll()

	frames := s.decoder.Frames()
	for {
		f, ok, err := pipeline.Receive(ctx, frames)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		w.push(f)
		for w.ready() {
			if err := s.emit(ctx, out, w); err != nil {
				return err
			}
		}
	}

	if err := s.decoder.Err(); err != nil {
		return codecError("decoder failed", err)
	}
	for w.size() > 0 {
		if err := s.emit(ctx, out, w); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stage) emit(ctx context.Context, out chan<- *ports.VideoFrame, w *reorderWindow) error {
	f, clamped := w.pop()
	if clamped {
		s.clamped.Add(1)
		s.logger.Debug("Frame at %v arrived past the reorder window", f.Timestamp)
	}
	if err := pipeline.Send(ctx, out, f); err != nil {
		f.Release()
		return err
	}
	s.frames.Add(1)
	metrics.FramesDecoded.Inc()
	return nil
}

// closeDecoder stops the decoder and releases whatever it still queued.
func (s *Stage) closeDecoder() {
	if err := s.decoder.Close(); err != nil {
		s.logger.Debug("Close decoder: %v", err)
	}
	for f := range s.decoder.Frames() {
		f.Release()
	}
}

func codecError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", pipeline.ErrCodecFailure, op, err)
}

// reorderWindow holds up to depth frames sorted by timestamp. Frames leave in
// timestamp order; one that is still older than the last emitted frame gets
// its timestamp clamped so output never goes backwards.
type reorderWindow struct {
	depth   int
	frames  []*ports.VideoFrame
	last    time.Duration
	emitted bool
}

func (w *reorderWindow) push(f *ports.VideoFrame) {
	i := sort.Search(len(w.frames), func(i int) bool {
		return w.frames[i].Timestamp > f.Timestamp
	})
	w.frames = append(w.frames, nil)
	copy(w.frames[i+1:], w.frames[i:])
	w.frames[i] = f
}

func (w *reorderWindow) ready() bool {
	return len(w.frames) > w.depth
}

func (w *reorderWindow) size() int {
	return len(w.frames)
}

func (w *reorderWindow) pop() (*ports.VideoFrame, bool) {
	f := w.frames[0]
	w.frames[0] = nil
	w.frames = w.frames[1:]

	clamped := false
	if w.emitted && f.Timestamp < w.last {
		f.Timestamp = w.last
		clamped = true
	}
	w.last = f.Timestamp
	w.emitted = true
	return f, clamped
}

func (w *reorderWindow) releaseAll() {
	for _, f := range w.frames {
		f.Release()
	}
	w.frames = nil
}

var _ pipeline.Stage[ports.DemuxEvent, *ports.VideoFrame] = (*Stage)(nil)
