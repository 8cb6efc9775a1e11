package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/webmshrink/pkg/adapters/logger"
	"github.com/user/webmshrink/pkg/mocks"
	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
)

func testDemuxer(n int) *mocks.Demuxer {
	samples := make([]ports.EncodedSample, n)
	for i := range samples {
		samples[i] = ports.EncodedSample{
			Data:      []byte{byte(i)},
			Timestamp: time.Duration(i) * 33 * time.Millisecond,
			Duration:  33 * time.Millisecond,
		}
	}
	return &mocks.Demuxer{
		Config:  ports.ContainerConfig{Codec: "avc1.64001f", Width: 1280, Height: 720},
		Samples: samples,
	}
}

func TestOrchestrator_Run(t *testing.T) {
	transport := &mocks.UploadTransport{}
	o := New(testDemuxer(30), &mocks.CodecFactory{}, &mocks.Muxer{}, transport, &mocks.NullSink{}, logger.NewNoop())

	done, err := o.Run(context.Background(), Job{
		Input:  bytes.NewReader(nil),
		Name:   "/videos/holiday.mp4",
		Buffer: true,
		Config: DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if done.Status != StatusDone {
		t.Errorf("expected status %q, got %q", StatusDone, done.Status)
	}
	if done.Filename != "holiday-240p.webm" {
		t.Errorf("expected filename holiday-240p.webm, got %s", done.Filename)
	}
	if done.Samples != 30 || done.FramesDecoded != 30 || done.FramesEncoded != 30 || done.Chunks != 30 {
		t.Errorf("unexpected counts: %+v", done)
	}
	// container header + one segment per chunk
	if done.Segments != 31 {
		t.Errorf("expected 31 segments, got %d", done.Segments)
	}
	if done.Flushes != 1 {
		t.Errorf("expected a single flush below the threshold, got %d", done.Flushes)
	}
	if !bytes.Equal(done.Buffer, transport.Bytes()) {
		t.Error("expected the buffered output to match the uploaded bytes")
	}
	if done.Stopped {
		t.Error("expected a complete run")
	}
	if s := transport.Summary(); s == nil || s.Filename != "holiday-240p.webm" {
		t.Errorf("expected the upload to be completed, got %+v", s)
	}
}

func TestOrchestrator_Run_WithRenderer(t *testing.T) {
	renderer := &mocks.FrameRenderer{}
	o := New(testDemuxer(20), &mocks.CodecFactory{}, &mocks.Muxer{}, &mocks.UploadTransport{}, &mocks.NullSink{}, logger.NewNoop())

	done, err := o.Run(context.Background(), Job{
		Name:     "clip.mp4",
		Renderer: renderer,
		Config:   DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done.Buffer != nil {
		t.Error("expected no buffer outside buffering mode")
	}
	if int64(len(renderer.Rendered())) != done.FramesRendered {
		t.Errorf("expected %d rendered frames reported, got %d", len(renderer.Rendered()), done.FramesRendered)
	}
	if done.FramesRendered+done.RenderDrops == 0 {
		t.Error("expected the render path to see the chunks")
	}
}

// Scenario D at the job level: a rejected decoder config ends the job with
// that error and no frames.
func TestOrchestrator_Run_UnsupportedConfig(t *testing.T) {
	decoder := &mocks.VideoDecoder{
		IsConfigSupportedFunc: func(ports.ContainerConfig) bool { return false },
	}
	encoder := &mocks.VideoEncoder{}
	factory := &mocks.CodecFactory{
		NewDecoderFunc: func() ports.VideoDecoder { return decoder },
		NewEncoderFunc: func() ports.VideoEncoder { return encoder },
	}
	transport := &mocks.UploadTransport{}
	o := New(testDemuxer(10), factory, &mocks.Muxer{}, transport, &mocks.NullSink{}, logger.NewNoop())

	_, err := o.Run(context.Background(), Job{Name: "bad.mp4", Config: DefaultConfig()})
	if !errors.Is(err, pipeline.ErrUnsupportedConfig) {
		t.Fatalf("expected ErrUnsupportedConfig, got %v", err)
	}
	if decoder.Created.Load() != 0 {
		t.Errorf("expected zero frames, got %d", decoder.Created.Load())
	}
	if len(encoder.Timestamps()) != 0 {
		t.Error("expected nothing encoded")
	}
	if len(transport.Units()) != 0 || transport.Summary() != nil {
		t.Error("expected no upload")
	}
	if len(transport.Aborted()) != 1 {
		t.Error("expected the upload to be aborted")
	}
}

func TestOrchestrator_Run_UploadFailure(t *testing.T) {
	transport := &mocks.UploadTransport{
		UploadFunc: func(context.Context, ports.UploadUnit) error { return errors.New("connection reset") },
	}
	o := New(testDemuxer(10), &mocks.CodecFactory{}, &mocks.Muxer{}, transport, &mocks.NullSink{}, logger.NewNoop())

	_, err := o.Run(context.Background(), Job{Name: "a.mp4", Config: DefaultConfig()})
	if !errors.Is(err, pipeline.ErrUploadFailure) {
		t.Fatalf("expected ErrUploadFailure, got %v", err)
	}
}

func TestOrchestrator_StopBeforeRun(t *testing.T) {
	transport := &mocks.UploadTransport{}
	o := New(testDemuxer(10), &mocks.CodecFactory{}, &mocks.Muxer{}, transport, &mocks.NullSink{}, logger.NewNoop())
	o.Stop()

	done, err := o.Run(context.Background(), Job{Name: "a.mp4", Config: DefaultConfig()})
	if err != nil {
		t.Fatalf("expected a graceful stop, got %v", err)
	}
	if !done.Stopped || done.Status != StatusDone {
		t.Errorf("expected a stopped done message, got %+v", done)
	}
	if transport.Summary() == nil {
		t.Error("expected the upload to be completed after a stop")
	}
}

func TestOutputFilename(t *testing.T) {
	tests := []struct {
		name   string
		label  string
		height int
		want   string
	}{
		{"movie.mp4", "", 144, "movie-144p.webm"},
		{"/tmp/in/movie.mp4", "", 240, "movie-240p.webm"},
		{`C:\videos\movie.mp4`, "", 720, "movie-720p.webm"},
		{"movie.mp4", "small", 144, "movie-small.webm"},
		{"archive.tar.mp4", "", 480, "archive.tar-480p.webm"},
		{"", "", 240, "output-240p.webm"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := OutputFilename(tt.name, tt.label, tt.height); got != tt.want {
				t.Errorf("OutputFilename(%q, %q, %d) = %q, want %q", tt.name, tt.label, tt.height, got, tt.want)
			}
		})
	}
}
