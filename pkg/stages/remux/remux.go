// Package remux implements the remux stage, which packages encoded chunks
// into a container and emits the serialized bytes as ordered segments.
package remux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/user/webmshrink/pkg/metrics"
	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
)

// Policy decides what happens when the output format changes after data was
// written.
type Policy string

const (
	// PolicyRestart finalizes the current container and starts a new one.
	PolicyRestart Policy = "restart"
	// PolicyReject fails the job with pipeline.ErrRemuxState.
	PolicyReject Policy = "reject"
)

// ParsePolicy parses a policy name. The empty string selects PolicyRestart.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyRestart:
		return PolicyRestart, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("unknown remux policy: %s", s)
	}
}

// Stage turns configuration changes and data chunks into container segments.
// The container writer is opened lazily on the first data chunk.
type Stage struct {
	muxer  ports.Muxer
	policy Policy
	logger ports.Logger

	// writeMu serializes segment writes; the muxer may write from its own
	// goroutine.
	writeMu  sync.Mutex
	position atomic.Int64

	segments   atomic.Int64
	containers atomic.Int64
}

// New creates a new remux stage.
func New(muxer ports.Muxer, policy Policy, logger ports.Logger) *Stage {
	if policy == "" {
		policy = PolicyRestart
	}
	return &Stage{
		muxer:  muxer,
		policy: policy,
		logger: logger.WithComponent("remux"),
	}
}

// Run implements pipeline.Stage.
func (s *Stage) Run(ctx context.Context, in <-chan ports.EncodedChunk, out chan<- ports.ContainerSegment) error {
	var (
		cfg    *ports.ContainerConfig
		writer ports.ContainerWriter
	)
	defer func() {
		// Only reached with an open writer on error paths.
		if writer != nil {
			writer.Close()
		}
	}()

	for {
		c, ok, err := pipeline.Receive(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		if c.IsConfig() {
			next := *c.Config
			if cfg != nil && cfg.Equal(next) {
				s.logger.Debug("Ignoring repeated configuration %s %dx%d", next.Codec, next.Width, next.Height)
				continue
			}
			if writer != nil {
				if s.policy == PolicyReject {
					return fmt.Errorf("%w: format changed to %s %dx%d after data was written",
						pipeline.ErrRemuxState, next.Codec, next.Width, next.Height)
				}
				w := writer
				writer = nil
				if err := s.finalize(ctx, w); err != nil {
					return err
				}
				metrics.MuxRestarts.Inc()
				s.logger.Debug("Restarting container for %s %dx%d", next.Codec, next.Width, next.Height)
			}
			cfg = &next
			continue
		}

		if c.Data == nil {
			continue
		}
		if cfg == nil {
			return fmt.Errorf("%w: data chunk before configuration", pipeline.ErrProtocol)
		}
		if writer == nil {
			w, err := s.muxer.NewWriter(s.newSegmentWriter(ctx, out), *cfg)
			if err != nil {
				return s.muxError(ctx, "open container", err)
			}
			writer = w
			s.containers.Add(1)
			s.logger.Debug("Container opened for %s %dx%d", cfg.Codec, cfg.Width, cfg.Height)
		}
		if err := writer.WriteChunk(*c.Data); err != nil {
			return s.muxError(ctx, fmt.Sprintf("write chunk at %v", c.Data.Timestamp), err)
		}
	}

	if writer != nil {
		w := writer
		writer = nil
		if err := s.finalize(ctx, w); err != nil {
			return err
		}
	}

	s.logger.Debug("Muxed %d segments, %d bytes", s.segments.Load(), s.Bytes())
	return nil
}

// Segments returns the number of segments emitted.
func (s *Stage) Segments() int64 {
	return s.segments.Load()
}

// Containers returns the number of containers started.
func (s *Stage) Containers() int64 {
	return s.containers.Load()
}

// Bytes returns the number of bytes emitted.
func (s *Stage) Bytes() int64 {
	return s.position.Load()
}

func (s *Stage) finalize(ctx context.Context, w ports.ContainerWriter) error {
	if err := w.Close(); err != nil {
		return s.muxError(ctx, "finalize container", err)
	}
	return nil
}

// muxError keeps the error kind of the writer failure. ErrRemuxState is
// reserved for rejected reconfigurations.
func (s *Stage) muxError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("remux: %s: %w", op, err)
}

// segmentWriter turns the muxer's writes into segments. Each Write becomes
// one segment positioned right after the previous one.
type segmentWriter struct {
	stage  *Stage
	ctx    context.Context
	out    chan<- ports.ContainerSegment
	closed bool
}

func (s *Stage) newSegmentWriter(ctx context.Context, out chan<- ports.ContainerSegment) *segmentWriter {
	return &segmentWriter{stage: s, ctx: ctx, out: out}
}

var errWriterClosed = errors.New("remux: segment writer closed")

func (w *segmentWriter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	w.stage.writeMu.Lock()
	defer w.stage.writeMu.Unlock()
	if w.closed {
		return 0, errWriterClosed
	}

	seg := ports.ContainerSegment{
		Data:     append([]byte(nil), b...),
		Position: w.stage.position.Load(),
	}
	if err := pipeline.Send(w.ctx, w.out, seg); err != nil {
		return 0, err
	}
	w.stage.position.Add(int64(len(b)))
	w.stage.segments.Add(1)
	metrics.SegmentsMuxed.Inc()
	return len(b), nil
}

func (w *segmentWriter) Close() error {
	w.stage.writeMu.Lock()
	defer w.stage.writeMu.Unlock()
	w.closed = true
	return nil
}

var _ pipeline.Stage[ports.EncodedChunk, ports.ContainerSegment] = (*Stage)(nil)
