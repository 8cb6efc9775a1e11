package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/user/webmshrink/pkg/ports"
)

// DefaultCapacity is the default buffer size of each inter-stage channel.
const DefaultCapacity = 8

// Stages lists the stages a Pipeline runs, in data-flow order.
type Stages struct {
	Source Source[ports.DemuxEvent]
	Decode Stage[ports.DemuxEvent, *ports.VideoFrame]
	Encode Stage[*ports.VideoFrame, ports.EncodedChunk]
	Render Stage[ports.EncodedChunk, ports.EncodedChunk] // optional
	Remux  Stage[ports.EncodedChunk, ports.ContainerSegment]
	Sink   Sink[ports.ContainerSegment]
}

// Pipeline runs demux → decode → encode → render → remux → upload as one
// job. Each stage runs in its own goroutine; stages are connected by
// channels of a fixed capacity, so a slow stage pauses everything upstream.
type Pipeline struct {
	stages   Stages
	capacity int
	logger   ports.Logger

	mu         sync.Mutex
	stopped    bool
	stopSource context.CancelFunc
}

// New creates a Pipeline. A capacity below 1 selects DefaultCapacity.
func New(stages Stages, capacity int, logger ports.Logger) *Pipeline {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Pipeline{
		stages:   stages,
		capacity: capacity,
		logger:   logger.WithComponent("pipeline"),
	}
}

// Stop ends the job gracefully: the source stops reading, the stages drain
// what is already in flight and the sink performs its final flush.
// It is safe to call Stop before, during or after Run.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if p.stopSource != nil {
		p.stopSource()
	}
}

// Run executes the pipeline to completion. It returns the first stage error,
// or ctx's error if the caller cancelled the job; both abort every stage and
// discard partial output.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.validate(); err != nil {
		return err
	}

	// A failing stage records its error and cancels actx before closing its
	// output, so the stages below never mistake the failure for a normal end
	// of stream and the recorded error is the cause rather than a
	// cancellation that followed it.
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		failOnce sync.Once
		failErr  error
	)
	fail := func(err error) {
		failOnce.Do(func() { failErr = err })
		cancel()
	}
	g, gctx := errgroup.WithContext(actx)

	srcCtx, stopSource := context.WithCancel(gctx)
	defer stopSource()
	p.mu.Lock()
	p.stopSource = stopSource
	if p.stopped {
		stopSource()
	}
	p.mu.Unlock()

	events := make(chan ports.DemuxEvent, p.capacity)
	frames := make(chan *ports.VideoFrame, p.capacity)
	encoded := make(chan ports.EncodedChunk, p.capacity)
	segments := make(chan ports.ContainerSegment, p.capacity)

	g.Go(func() error {
		defer close(events)
		err := p.stages.Source.Run(srcCtx, events)
		if err != nil && errors.Is(err, context.Canceled) && gctx.Err() == nil {
			p.logger.Debug("Source stopped on request")
			return nil
		}
		if err != nil {
			err = stageError("demux", err)
			fail(err)
		}
		return err
	})
	runStage(g, gctx, fail, "decode", p.stages.Decode, events, frames)
	runStage(g, gctx, fail, "encode", p.stages.Encode, frames, encoded)

	muxIn := encoded
	if p.stages.Render != nil {
		rendered := make(chan ports.EncodedChunk, p.capacity)
		runStage(g, gctx, fail, "render", p.stages.Render, encoded, rendered)
		muxIn = rendered
	}

	runStage(g, gctx, fail, "remux", p.stages.Remux, muxIn, segments)
	g.Go(func() error {
		err := p.stages.Sink.Run(gctx, segments)
		if err != nil {
			err = stageError("upload", err)
			fail(err)
		}
		return err
	})

	err := g.Wait()
	if failErr != nil {
		err = failErr
	}

	// Frames still queued between decode and encode have no owner left.
	released := 0
	for f := range frames {
		f.Release()
		released++
	}
	if released > 0 {
		p.logger.Debug("Released %d queued frames", released)
	}

	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (p *Pipeline) validate() error {
	switch {
	case p.stages.Source == nil:
		return fmt.Errorf("pipeline: missing source")
	case p.stages.Decode == nil:
		return fmt.Errorf("pipeline: missing decode stage")
	case p.stages.Encode == nil:
		return fmt.Errorf("pipeline: missing encode stage")
	case p.stages.Remux == nil:
		return fmt.Errorf("pipeline: missing remux stage")
	case p.stages.Sink == nil:
		return fmt.Errorf("pipeline: missing sink")
	}
	return nil
}

// runStage starts stage in g and closes out once it returns. A failing stage
// fails the job before closing out.
func runStage[In, Out any](g *errgroup.Group, ctx context.Context, fail func(error), name string, stage Stage[In, Out], in <-chan In, out chan<- Out) {
	g.Go(func() error {
		err := stage.Run(ctx, in, out)
		if err != nil {
			err = stageError(name, err)
			fail(err)
		}
		close(out)
		return err
	})
}

func stageError(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s stage: %w", name, err)
}
