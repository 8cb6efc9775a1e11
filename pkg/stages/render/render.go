// Package render implements the tee/render stage. Chunks pass through
// unchanged; on the side they are decoded again and drawn by a renderer.
package render

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/user/webmshrink/pkg/metrics"
	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
)

// DefaultQueueSize is the number of chunks that may wait for the render
// decoder before new ones are dropped.
const DefaultQueueSize = 16

// Stage forwards every chunk and renders what it can. Rendering never holds
// up forwarding: when the render path falls behind or fails, chunks are
// skipped until the next key chunk. Config events pass through as well so
// the remux stage downstream can configure its writer.
type Stage struct {
	factory   ports.CodecFactory
	renderer  ports.FrameRenderer
	logger    ports.Logger
	queueSize int

	resync atomic.Bool

	forwarded atomic.Int64
	rendered  atomic.Int64
	dropped   atomic.Int64
	failures  atomic.Int64
}

// New creates a new render stage. A queueSize below 1 selects
// DefaultQueueSize.
func New(factory ports.CodecFactory, renderer ports.FrameRenderer, logger ports.Logger, queueSize int) *Stage {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	if renderer == nil {
		renderer = ports.FrameRendererFunc(func(*ports.VideoFrame) error { return nil })
	}
	return &Stage{
		factory:   factory,
		renderer:  renderer,
		logger:    logger.WithComponent("render"),
		queueSize: queueSize,
	}
}

// renderJob is one chunk for the render path, optionally preceded by the
// configuration it needs.
type renderJob struct {
	config *ports.ContainerConfig
	chunk  ports.DataChunk
}

// Run implements pipeline.Stage.
func (s *Stage) Run(ctx context.Context, in <-chan ports.EncodedChunk, out chan<- ports.EncodedChunk) error {
	jobs := make(chan renderJob, s.queueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.renderLoop(ctx, jobs)
	}()
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	var pending *ports.ContainerConfig
	needKey := true

	for {
		c, ok, err := pipeline.Receive(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		switch {
		case c.IsConfig():
			cfg := *c.Config
			pending = &cfg
			needKey = true

		case c.Data != nil:
			if s.resync.Swap(false) {
				needKey = true
			}
			key := c.Data.Type == ports.ChunkKey
			if needKey && !key {
				s.drop()
				break
			}
			job := renderJob{chunk: *c.Data}
			if needKey {
				job.config = pending
			}
			select {
			case jobs <- job:
				if needKey {
					pending = nil
					needKey = false
				}
			default:
				s.drop()
				needKey = true
			}
		}

		if err := pipeline.Send(ctx, out, c); err != nil {
			return err
		}
		s.forwarded.Add(1)
		metrics.ChunksForwarded.Inc()
	}

	s.logger.Debug("Forwarded %d chunks, rendered %d frames, dropped %d, failed %d",
		s.forwarded.Load(), s.rendered.Load(), s.dropped.Load(), s.failures.Load())
	return nil
}

// Forwarded returns the number of chunks passed downstream.
func (s *Stage) Forwarded() int64 {
	return s.forwarded.Load()
}

// Rendered returns the number of frames drawn.
func (s *Stage) Rendered() int64 {
	return s.rendered.Load()
}

// Dropped returns the number of chunks the render path skipped.
func (s *Stage) Dropped() int64 {
	return s.dropped.Load()
}

// Failures returns the number of render path failures.
func (s *Stage) Failures() int64 {
	return s.failures.Load()
}

func (s *Stage) drop() {
	s.dropped.Add(1)
	metrics.RenderDrops.Inc()
}

func (s *Stage) fail(msg string, args ...interface{}) {
	s.failures.Add(1)
	metrics.RenderFailures.Inc()
	s.logger.Warn(msg, args...)
}

// renderLoop owns the render decoder. It runs until jobs is closed, then
// flushes the decoder so trailing frames are drawn too.
func (s *Stage) renderLoop(ctx context.Context, jobs <-chan renderJob) {
	var (
		dec     *renderDecoder
		lastCfg *ports.ContainerConfig
		needKey bool
	)
	defer func() {
		if dec != nil {
			dec.finish(ctx)
		}
	}()

	for job := range jobs {
		if ctx.Err() != nil {
			continue
		}

		if job.config != nil && (lastCfg == nil || !lastCfg.Equal(*job.config)) {
			if dec != nil {
				dec.finish(ctx)
				dec = nil
			}
			lastCfg = job.config
		}
		if needKey {
			if job.chunk.Type != ports.ChunkKey {
				s.drop()
				continue
			}
			needKey = false
		}
		if dec == nil {
			if lastCfg == nil {
				s.fail("Render skipped chunk at %v: no configuration", job.chunk.Timestamp)
				needKey = true
				continue
			}
			d, err := s.newDecoder(*lastCfg)
			if err != nil {
				s.fail("Render decoder unavailable for %s: %v", lastCfg.Codec, err)
				needKey = true
				continue
			}
			dec = d
		}

		sample := ports.EncodedSample{
			Data:      job.chunk.Data,
			Timestamp: job.chunk.Timestamp,
			Duration:  job.chunk.Duration,
			Type:      job.chunk.Type,
		}
		if err := dec.decoder.Decode(ctx, sample); err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.fail("Render decode failed at %v: %v", sample.Timestamp, err)
			dec.abort()
			dec = nil
			needKey = true
			s.resync.Store(true)
		}
	}
}

// renderDecoder is one decoder instance plus the goroutine drawing its frames.
type renderDecoder struct {
	decoder ports.VideoDecoder
	done    chan struct{}
}

func (s *Stage) newDecoder(cfg ports.ContainerConfig) (*renderDecoder, error) {
	decoder := s.factory.NewDecoder()
	if !decoder.IsConfigSupported(cfg) {
		decoder.Close()
		return nil, pipeline.ErrUnsupportedConfig
	}
	if err := decoder.Configure(cfg); err != nil {
		decoder.Close()
		return nil, err
	}
	s.logger.Debug("Render decoder configured for %s %dx%d", cfg.Codec, cfg.Width, cfg.Height)

	rd := &renderDecoder{decoder: decoder, done: make(chan struct{})}
	go func() {
		defer close(rd.done)
		for f := range decoder.Frames() {
			s.draw(f)
		}
		if err := decoder.Err(); err != nil {
			s.fail("Render decoder failed: %v", err)
			s.resync.Store(true)
		}
	}()
	return rd, nil
}

func (s *Stage) draw(f *ports.VideoFrame) {
	defer f.Release()
	if err := s.renderer.RenderFrame(f); err != nil {
		s.fail("Render failed at %v: %v", f.Timestamp, err)
		return
	}
	s.rendered.Add(1)
}

// finish flushes the decoder, waits for its remaining frames to be drawn and
// closes it.
func (d *renderDecoder) finish(ctx context.Context) {
	if ctx.Err() == nil && d.decoder.Flush(ctx) == nil {
		select {
		case <-d.done:
		case <-ctx.Done():
		}
	}
	d.abort()
}

// abort closes the decoder and waits for the drawing goroutine to drain.
func (d *renderDecoder) abort() {
	d.decoder.Close()
	<-d.done
}

var _ pipeline.Stage[ports.EncodedChunk, ports.EncodedChunk] = (*Stage)(nil)
