package encode

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/webmshrink/pkg/adapters/logger"
	"github.com/user/webmshrink/pkg/mocks"
	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
)

var testConfig = ports.EncoderConfig{
	Codec:                "vp09.00.10.08",
	Width:                320,
	Height:               240,
	Bitrate:              10_000_000,
	Framerate:            30,
	HardwareAcceleration: ports.SoftwarePreferred,
}

type frameSet struct {
	released atomic.Int64
}

func (fs *frameSet) frame(i int) *ports.VideoFrame {
	return ports.NewVideoFrame(image.NewRGBA(image.Rect(0, 0, 64, 48)),
		time.Duration(i)*33*time.Millisecond, 33*time.Millisecond, func() { fs.released.Add(1) })
}

func run(t *testing.T, stage *Stage, frames []*ports.VideoFrame) ([]ports.EncodedChunk, error) {
	t.Helper()
	in := make(chan *ports.VideoFrame, len(frames))
	for _, f := range frames {
		in <- f
	}
	close(in)

	out := make(chan ports.EncodedChunk, 1000)
	err := stage.Run(context.Background(), in, out)
	close(out)

	var chunks []ports.EncodedChunk
	for c := range out {
		chunks = append(chunks, c)
	}
	return chunks, err
}

func TestStage_Run(t *testing.T) {
	fs := &frameSet{}
	encoder := &mocks.VideoEncoder{}
	stage := New(encoder, testConfig, logger.NewNoop())

	frames := make([]*ports.VideoFrame, 10)
	for i := range frames {
		frames[i] = fs.frame(i)
	}

	chunks, err := run(t, stage, frames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(chunks) != 11 {
		t.Fatalf("expected config + 10 chunks, got %d", len(chunks))
	}
	if !chunks[0].IsConfig() {
		t.Fatal("expected first chunk to be a configuration change")
	}
	if chunks[0].Config.Codec != "vp09.00.10.08" || chunks[0].Config.Width != 320 || chunks[0].Config.Height != 240 {
		t.Errorf("unexpected output config: %+v", *chunks[0].Config)
	}
	for i, c := range chunks[1:] {
		if c.IsConfig() {
			t.Fatalf("chunk %d: unexpected configuration change", i+1)
		}
		if c.Data.Timestamp != time.Duration(i)*33*time.Millisecond {
			t.Errorf("chunk %d: unexpected timestamp %v", i+1, c.Data.Timestamp)
		}
	}
	if fs.released.Load() != 10 {
		t.Errorf("expected 10 frames released, got %d", fs.released.Load())
	}
	if stage.Frames() != 10 || stage.Chunks() != 10 {
		t.Errorf("expected 10/10 counts, got %d/%d", stage.Frames(), stage.Chunks())
	}
	if cfg := encoder.Config(); cfg == nil || *cfg != testConfig {
		t.Errorf("expected encoder configured with %+v, got %+v", testConfig, cfg)
	}
	if !encoder.Flushed() || !encoder.Closed() {
		t.Error("expected encoder to be flushed and closed")
	}
}

// Scenario B: one frame in gives [config, data] out before anything else.
func TestStage_Run_ConfigBeforeFirstData(t *testing.T) {
	fs := &frameSet{}
	encoder := &mocks.VideoEncoder{}
	stage := New(encoder, testConfig, logger.NewNoop())

	in := make(chan *ports.VideoFrame)
	out := make(chan ports.EncodedChunk, 10)
	done := make(chan error, 1)
	go func() { done <- stage.Run(context.Background(), in, out) }()

	in <- fs.frame(0)

	first := <-out
	second := <-out
	if !first.IsConfig() {
		t.Errorf("expected configuration change first, got %+v", first)
	}
	if second.IsConfig() || second.Data == nil {
		t.Errorf("expected data chunk second, got %+v", second)
	}

	in <- fs.frame(1)
	close(in)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(out)

	var rest []ports.EncodedChunk
	for c := range out {
		rest = append(rest, c)
	}
	if len(rest) != 1 || rest[0].IsConfig() {
		t.Errorf("expected one more data chunk, got %+v", rest)
	}
}

func TestStage_Run_SynthesizesConfig(t *testing.T) {
	encoder := &mocks.VideoEncoder{
		OutputConfigFunc: func(int, ports.EncoderConfig) *ports.ContainerConfig { return nil },
	}
	stage := New(encoder, testConfig, logger.NewNoop())

	fs := &frameSet{}
	chunks, err := run(t, stage, []*ports.VideoFrame{fs.frame(0), fs.frame(1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 3 || !chunks[0].IsConfig() {
		t.Fatalf("expected synthesized config then 2 chunks, got %d chunks", len(chunks))
	}
	want := ports.ContainerConfig{Codec: testConfig.Codec, Width: testConfig.Width, Height: testConfig.Height}
	if !chunks[0].Config.Equal(want) {
		t.Errorf("expected %+v, got %+v", want, *chunks[0].Config)
	}
}

func TestStage_Run_FormatChange(t *testing.T) {
	small := &ports.ContainerConfig{Codec: "vp09.00.10.08", Width: 320, Height: 240}
	large := &ports.ContainerConfig{Codec: "vp09.00.10.08", Width: 640, Height: 480}
	encoder := &mocks.VideoEncoder{
		OutputConfigFunc: func(index int, _ ports.EncoderConfig) *ports.ContainerConfig {
			switch {
			case index < 3:
				return small // repeated identical config emits nothing
			case index == 3:
				return large
			}
			return nil
		},
	}
	stage := New(encoder, testConfig, logger.NewNoop())

	fs := &frameSet{}
	frames := make([]*ports.VideoFrame, 5)
	for i := range frames {
		frames[i] = fs.frame(i)
	}
	chunks, err := run(t, stage, frames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var kinds []string
	for _, c := range chunks {
		if c.IsConfig() {
			kinds = append(kinds, "config")
		} else {
			kinds = append(kinds, "data")
		}
	}
	want := []string{"config", "data", "data", "data", "config", "data", "data"}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
	if chunks[4].Config.Width != 640 {
		t.Errorf("expected second config to be 640 wide, got %d", chunks[4].Config.Width)
	}
}

func TestStage_Run_UnsupportedConfig(t *testing.T) {
	configureCalls := 0
	encoder := &mocks.VideoEncoder{
		ConfigureFunc: func(ports.EncoderConfig) error {
			configureCalls++
			return errors.New("no vp9 encoder")
		},
	}
	stage := New(encoder, testConfig, logger.NewNoop())

	fs := &frameSet{}
	chunks, err := run(t, stage, []*ports.VideoFrame{fs.frame(0)})
	if !errors.Is(err, pipeline.ErrUnsupportedConfig) {
		t.Fatalf("expected ErrUnsupportedConfig, got %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
	if configureCalls != 1 {
		t.Errorf("expected a single configure attempt, got %d", configureCalls)
	}
}

func TestStage_Run_EncodeErrorReleasesFrame(t *testing.T) {
	encoder := &mocks.VideoEncoder{EncodeErr: errors.New("encoder crashed")}
	stage := New(encoder, testConfig, logger.NewNoop())

	fs := &frameSet{}
	_, err := run(t, stage, []*ports.VideoFrame{fs.frame(0), fs.frame(1)})
	if !errors.Is(err, pipeline.ErrCodecFailure) {
		t.Fatalf("expected ErrCodecFailure, got %v", err)
	}
	if fs.released.Load() != 1 {
		t.Errorf("expected the failed frame to be released, got %d releases", fs.released.Load())
	}
}

func TestStage_Run_SizeFromFirstFrame(t *testing.T) {
	encoder := &mocks.VideoEncoder{}
	cfg := testConfig
	cfg.Width, cfg.Height = 0, 0
	stage := New(encoder, cfg, logger.NewNoop())

	fs := &frameSet{}
	chunks, err := run(t, stage, []*ports.VideoFrame{fs.frame(0), fs.frame(1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := encoder.Config()
	if got == nil || got.Width != 64 || got.Height != 48 {
		t.Errorf("expected encoder sized from first frame, got %+v", got)
	}
	if len(chunks) != 3 {
		t.Errorf("expected 3 chunks, got %d", len(chunks))
	}
	if fs.released.Load() != 2 {
		t.Errorf("expected 2 frames released, got %d", fs.released.Load())
	}
}
