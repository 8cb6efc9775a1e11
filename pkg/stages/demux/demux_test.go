package demux

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

func testSamples(n int) []ports.EncodedSample {
	samples := make([]ports.EncodedSample, n)
	for i := range samples {
		samples[i] = ports.EncodedSample{
			Data:      []byte{byte(i)},
			Timestamp: time.Duration(i) * 33 * time.Millisecond,
		}
	}
	return samples
}

func collect(t *testing.T, src *Source) ([]ports.DemuxEvent, error) {
	t.Helper()
	out := make(chan ports.DemuxEvent, 100)
	err := src.Run(context.Background(), out)
	close(out)
	var events []ports.DemuxEvent
	for ev := range out {
		events = append(events, ev)
	}
	return events, err
}

func TestSource_Run(t *testing.T) {
	demuxer := &mocks.Demuxer{
		Config:  ports.ContainerConfig{Codec: "avc1.64001f", Width: 1280, Height: 720},
		Samples: testSamples(30),
	}
	sink := mocks.NewDebugSink(true)
	src := New(demuxer, bytes.NewReader(nil), sink, logger.NewNoop())

	events, err := collect(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events) != 31 {
		t.Fatalf("expected 31 events, got %d", len(events))
	}
	if events[0].Config == nil || events[0].Config.Codec != "avc1.64001f" {
		t.Errorf("expected config event first, got %+v", events[0])
	}
	for i, ev := range events[1:] {
		if ev.Sample == nil {
			t.Fatalf("event %d: expected sample", i+1)
		}
		if ev.Sample.Data[0] != byte(i) {
			t.Errorf("event %d: samples out of order", i+1)
		}
	}
	if src.Samples() != 30 {
		t.Errorf("expected 30 samples counted, got %d", src.Samples())
	}
	if !demuxer.Closed() {
		t.Error("expected demuxer to be closed")
	}
	if _, ok := sink.Config("input"); !ok {
		t.Error("expected input config to be saved")
	}
}

func TestSource_Run_OpenErrors(t *testing.T) {
	tests := []struct {
		name    string
		openErr error
		want    error
	}{
		{"unsupported codec", pipeline.ErrUnsupportedConfig, pipeline.ErrUnsupportedConfig},
		{"malformed container", errors.New("no moov box"), pipeline.ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			demuxer := &mocks.Demuxer{OpenErr: tt.openErr}
			src := New(demuxer, bytes.NewReader(nil), &mocks.NullSink{}, logger.NewNoop())

			events, err := collect(t, src)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if len(events) != 0 {
				t.Errorf("expected no events, got %d", len(events))
			}
		})
	}
}

func TestSource_Run_SampleError(t *testing.T) {
	demuxer := &mocks.Demuxer{
		Samples:     testSamples(10),
		SampleErr:   errors.New("truncated mdat"),
		SampleErrAt: 5,
	}
	src := New(demuxer, bytes.NewReader(nil), &mocks.NullSink{}, logger.NewNoop())

	events, err := collect(t, src)
	if !errors.Is(err, pipeline.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if len(events) != 6 {
		t.Errorf("expected config + 5 samples, got %d events", len(events))
	}
}

func TestSource_Run_Cancelled(t *testing.T) {
	demuxer := &mocks.Demuxer{Samples: testSamples(100)}
	src := New(demuxer, bytes.NewReader(nil), &mocks.NullSink{}, logger.NewNoop())

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan ports.DemuxEvent)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	<-out // config
	<-out // first sample
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !demuxer.Closed() {
		t.Error("expected demuxer to be closed")
	}
}
