package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/webmshrink/pkg/adapters/logger"
	"github.com/user/webmshrink/pkg/ports"
)

// sampleSource emits a config followed by n samples, pausing between them.
type sampleSource struct {
	n     int
	delay time.Duration
}

func (s *sampleSource) Run(ctx context.Context, out chan<- ports.DemuxEvent) error {
	cfg := ports.ContainerConfig{Codec: "avc1.42001e", Width: 64, Height: 48}
	if err := Send(ctx, out, ports.DemuxEvent{Config: &cfg}); err != nil {
		return err
	}
	for i := 0; i < s.n; i++ {
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		sample := ports.EncodedSample{Data: []byte{byte(i)}, Timestamp: time.Duration(i) * time.Millisecond}
		if err := Send(ctx, out, ports.DemuxEvent{Sample: &sample}); err != nil {
			return err
		}
	}
	return nil
}

// blockingSource emits the config and then waits for ctx.
type blockingSource struct{}

func (blockingSource) Run(ctx context.Context, out chan<- ports.DemuxEvent) error {
	cfg := ports.ContainerConfig{Codec: "avc1.42001e", Width: 64, Height: 48}
	if err := Send(ctx, out, ports.DemuxEvent{Config: &cfg}); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

type frameCounter struct {
	created  atomic.Int64
	released atomic.Int64
}

func (c *frameCounter) decode() Stage[ports.DemuxEvent, *ports.VideoFrame] {
	return StageFunc[ports.DemuxEvent, *ports.VideoFrame](func(ctx context.Context, in <-chan ports.DemuxEvent, out chan<- *ports.VideoFrame) error {
		for ev := range in {
			if ev.Sample == nil {
				continue
			}
			c.created.Add(1)
			f := ports.NewVideoFrame(image.NewRGBA(image.Rect(0, 0, 2, 2)), ev.Sample.Timestamp, 0, func() { c.released.Add(1) })
			if err := Send(ctx, out, f); err != nil {
				f.Release()
				return err
			}
		}
		return nil
	})
}

func encodeStage(jitter bool) Stage[*ports.VideoFrame, ports.EncodedChunk] {
	return StageFunc[*ports.VideoFrame, ports.EncodedChunk](func(ctx context.Context, in <-chan *ports.VideoFrame, out chan<- ports.EncodedChunk) error {
		first := true
		for f := range in {
			if first {
				if err := Send(ctx, out, ports.ConfigChange(ports.ContainerConfig{Codec: "vp09.00.10.08", Width: 2, Height: 2})); err != nil {
					f.Release()
					return err
				}
				first = false
			}
			ts := f.Timestamp
			f.Release()
			if jitter {
				time.Sleep(time.Duration(rand.Intn(200)) * time.Microsecond)
			}
			if err := Send(ctx, out, ports.Data(ports.DataChunk{Data: []byte{byte(ts / time.Millisecond)}, Timestamp: ts})); err != nil {
				return err
			}
		}
		return nil
	})
}

func remuxStage() Stage[ports.EncodedChunk, ports.ContainerSegment] {
	return StageFunc[ports.EncodedChunk, ports.ContainerSegment](func(ctx context.Context, in <-chan ports.EncodedChunk, out chan<- ports.ContainerSegment) error {
		var pos int64
		for c := range in {
			if c.IsConfig() {
				continue
			}
			seg := ports.ContainerSegment{Data: c.Data.Data, Position: pos}
			pos += int64(len(c.Data.Data))
			if err := Send(ctx, out, seg); err != nil {
				return err
			}
		}
		return nil
	})
}

type recordingSink struct {
	mu       sync.Mutex
	segments []ports.ContainerSegment
	delay    time.Duration
	finished bool
}

func (s *recordingSink) Run(ctx context.Context, in <-chan ports.ContainerSegment) error {
	for seg := range in {
		if s.delay > 0 {
			time.Sleep(time.Duration(rand.Int63n(int64(s.delay))))
		}
		s.mu.Lock()
		s.segments = append(s.segments, seg)
		s.mu.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	return nil
}

func TestPipeline_PreservesSegmentOrder(t *testing.T) {
	counter := &frameCounter{}
	sink := &recordingSink{delay: 300 * time.Microsecond}

	p := New(Stages{
		Source: &sampleSource{n: 100},
		Decode: counter.decode(),
		Encode: encodeStage(true),
		Remux:  remuxStage(),
		Sink:   sink,
	}, 2, logger.NewNoop())

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sink.segments) != 100 {
		t.Fatalf("expected 100 segments, got %d", len(sink.segments))
	}
	var pos int64
	for i, seg := range sink.segments {
		if seg.Position != pos {
			t.Fatalf("segment %d: expected position %d, got %d", i, pos, seg.Position)
		}
		if seg.Data[0] != byte(i) {
			t.Fatalf("segment %d out of order: payload %d", i, seg.Data[0])
		}
		pos += int64(len(seg.Data))
	}
	if !sink.finished {
		t.Error("expected sink to finish")
	}
	if counter.created.Load() != counter.released.Load() {
		t.Errorf("expected all frames released, created %d released %d",
			counter.created.Load(), counter.released.Load())
	}
}

func TestPipeline_WithRenderStage(t *testing.T) {
	var forwarded atomic.Int64
	render := StageFunc[ports.EncodedChunk, ports.EncodedChunk](func(ctx context.Context, in <-chan ports.EncodedChunk, out chan<- ports.EncodedChunk) error {
		for c := range in {
			forwarded.Add(1)
			if err := Send(ctx, out, c); err != nil {
				return err
			}
		}
		return nil
	})
	sink := &recordingSink{}

	p := New(Stages{
		Source: &sampleSource{n: 10},
		Decode: (&frameCounter{}).decode(),
		Encode: encodeStage(false),
		Render: render,
		Remux:  remuxStage(),
		Sink:   sink,
	}, 0, logger.NewNoop())

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1 config + 10 data chunks
	if forwarded.Load() != 11 {
		t.Errorf("expected 11 chunks through render, got %d", forwarded.Load())
	}
	if len(sink.segments) != 10 {
		t.Errorf("expected 10 segments, got %d", len(sink.segments))
	}
}

func TestPipeline_StageErrorAbortsJob(t *testing.T) {
	counter := &frameCounter{}
	sink := &recordingSink{}

	failing := StageFunc[*ports.VideoFrame, ports.EncodedChunk](func(ctx context.Context, in <-chan *ports.VideoFrame, out chan<- ports.EncodedChunk) error {
		f := <-in
		f.Release()
		return fmt.Errorf("%w: encoder exploded", ErrCodecFailure)
	})

	p := New(Stages{
		Source: &sampleSource{n: 50},
		Decode: counter.decode(),
		Encode: failing,
		Remux:  remuxStage(),
		Sink:   sink,
	}, 4, logger.NewNoop())

	err := p.Run(context.Background())
	if !errors.Is(err, ErrCodecFailure) {
		t.Fatalf("expected ErrCodecFailure, got %v", err)
	}
	if sink.finished {
		t.Error("sink must not finish after an error abort")
	}
	if counter.created.Load() != counter.released.Load() {
		t.Errorf("expected queued frames released, created %d released %d",
			counter.created.Load(), counter.released.Load())
	}
}

func TestPipeline_StopDrainsGracefully(t *testing.T) {
	sink := &recordingSink{}
	p := New(Stages{
		Source: blockingSource{},
		Decode: (&frameCounter{}).decode(),
		Encode: encodeStage(false),
		Remux:  remuxStage(),
		Sink:   sink,
	}, 0, logger.NewNoop())

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Stop()
	}()

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("expected graceful stop, got %v", err)
	}
	if !sink.finished {
		t.Error("expected sink to finish after Stop")
	}
}

func TestPipeline_StopBeforeRun(t *testing.T) {
	p := New(Stages{
		Source: blockingSource{},
		Decode: (&frameCounter{}).decode(),
		Encode: encodeStage(false),
		Remux:  remuxStage(),
		Sink:   &recordingSink{},
	}, 0, logger.NewNoop())

	p.Stop()
	p.Stop()

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestPipeline_CallerCancellation(t *testing.T) {
	sink := &recordingSink{}
	p := New(Stages{
		Source: blockingSource{},
		Decode: (&frameCounter{}).decode(),
		Encode: encodeStage(false),
		Remux:  remuxStage(),
		Sink:   sink,
	}, 0, logger.NewNoop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sink.finished {
		t.Error("sink must not finish after cancellation")
	}
}

func TestPipeline_MissingStage(t *testing.T) {
	p := New(Stages{Source: blockingSource{}}, 0, logger.NewNoop())
	if err := p.Run(context.Background()); err == nil {
		t.Error("expected error for missing stages")
	}
}
