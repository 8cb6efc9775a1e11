// Package demux implements the demux source, the first stage of the pipeline.
package demux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/user/webmshrink/pkg/metrics"
	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
)

// Source reads one input container and emits its video configuration
// followed by every sample in decode order.
type Source struct {
	demuxer ports.Demuxer
	input   io.ReadSeeker
	sink    ports.DebugSink
	logger  ports.Logger

	samples atomic.Int64
}

// New creates a new demux source reading from input.
func New(demuxer ports.Demuxer, input io.ReadSeeker, sink ports.DebugSink, logger ports.Logger) *Source {
	return &Source{
		demuxer: demuxer,
		input:   input,
		sink:    sink,
		logger:  logger.WithComponent("demux"),
	}
}

// Run implements pipeline.Source. It returns nil at the end of the input and
// ctx's error when stopped early.
func (s *Source) Run(ctx context.Context, out chan<- ports.DemuxEvent) error {
	cfg, err := s.demuxer.Open(s.input)
	if err != nil {
		if errors.Is(err, pipeline.ErrUnsupportedConfig) {
			return fmt.Errorf("open container: %w", err)
		}
		return fmt.Errorf("%w: open container: %v", pipeline.ErrProtocol, err)
	}
	defer s.demuxer.Close()

	s.logger.Debug("Input track: %s %dx%d", cfg.Codec, cfg.Width, cfg.Height)
	if s.sink.Enabled() {
		if data, err := json.MarshalIndent(cfg, "", "  "); err == nil {
			s.sink.SaveConfigJSON("input", data)
		}
	}

	if err := pipeline.Send(ctx, out, ports.DemuxEvent{Config: &cfg}); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sample, err := s.demuxer.NextSample()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: read sample %d: %v", pipeline.ErrProtocol, s.samples.Load(), err)
		}

		if err := pipeline.Send(ctx, out, ports.DemuxEvent{Sample: &sample}); err != nil {
			return err
		}
		s.samples.Add(1)
		metrics.SamplesDemuxed.Inc()
	}

	s.logger.Debug("Demuxed %d samples", s.samples.Load())
	return nil
}

// Samples returns the number of samples emitted so far.
func (s *Source) Samples() int64 {
	return s.samples.Load()
}

var _ pipeline.Source[ports.DemuxEvent] = (*Source)(nil)
