package remux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/webmshrink/pkg/adapters/logger"
	"github.com/user/webmshrink/pkg/adapters/webmmuxer"
	"github.com/user/webmshrink/pkg/mocks"
	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
)

var (
	cfgA = ports.ContainerConfig{Codec: "vp09.00.10.08", Width: 320, Height: 240}
	cfgB = ports.ContainerConfig{Codec: "vp09.00.10.08", Width: 640, Height: 480}
)

func data(i int) ports.EncodedChunk {
	t := ports.ChunkDelta
	if i == 0 {
		t = ports.ChunkKey
	}
	return ports.Data(ports.DataChunk{
		Data:      []byte{byte(i), byte(i), byte(i)},
		Type:      t,
		Timestamp: time.Duration(i) * 33 * time.Millisecond,
	})
}

func run(t *testing.T, stage *Stage, chunks ...ports.EncodedChunk) ([]ports.ContainerSegment, error) {
	t.Helper()
	in := make(chan ports.EncodedChunk, len(chunks))
	for _, c := range chunks {
		in <- c
	}
	close(in)

	out := make(chan ports.ContainerSegment, 1000)
	err := stage.Run(context.Background(), in, out)
	close(out)

	var segs []ports.ContainerSegment
	for s := range out {
		segs = append(segs, s)
	}
	return segs, err
}

func assertContiguous(t *testing.T, segs []ports.ContainerSegment) {
	t.Helper()
	var pos int64
	for i, s := range segs {
		if s.Position != pos {
			t.Fatalf("segment %d: expected position %d, got %d", i, pos, s.Position)
		}
		pos += int64(len(s.Data))
	}
}

func TestStage_Run(t *testing.T) {
	muxer := &mocks.Muxer{}
	stage := New(muxer, PolicyRestart, logger.NewNoop())

	segs, err := run(t, stage, ports.ConfigChange(cfgA), data(0), data(1), data(2), data(3), data(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// header + one segment per chunk
	if len(segs) != 6 {
		t.Fatalf("expected 6 segments, got %d", len(segs))
	}
	assertContiguous(t, segs)
	for i := 1; i < len(segs); i++ {
		if segs[i].Data[0] != byte(i-1) {
			t.Errorf("segment %d out of order", i)
		}
	}

	writers := muxer.Writers()
	if len(writers) != 1 || !writers[0].Closed() {
		t.Fatal("expected one finalized container")
	}
	if cfgs := muxer.Configs(); !cfgs[0].Equal(cfgA) {
		t.Errorf("expected container for %+v, got %+v", cfgA, cfgs[0])
	}
	if stage.Segments() != 6 || stage.Bytes() != 4+5*3 {
		t.Errorf("unexpected stats: %d segments, %d bytes", stage.Segments(), stage.Bytes())
	}
}

func TestStage_Run_LazyOpen(t *testing.T) {
	muxer := &mocks.Muxer{}
	stage := New(muxer, PolicyRestart, logger.NewNoop())

	segs, err := run(t, stage, ports.ConfigChange(cfgA))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("expected no segments, got %d", len(segs))
	}
	if len(muxer.Writers()) != 0 {
		t.Error("expected no container to be opened")
	}
}

func TestStage_Run_ConfigChanges(t *testing.T) {
	tests := []struct {
		name       string
		policy     Policy
		chunks     []ports.EncodedChunk
		wantErr    error
		containers int
		lastConfig ports.ContainerConfig
	}{
		{
			name:       "identical config is a no-op under reject",
			policy:     PolicyReject,
			chunks:     []ports.EncodedChunk{ports.ConfigChange(cfgA), data(0), ports.ConfigChange(cfgA), data(1)},
			containers: 1,
			lastConfig: cfgA,
		},
		{
			name:       "change before data replaces config",
			policy:     PolicyReject,
			chunks:     []ports.EncodedChunk{ports.ConfigChange(cfgA), ports.ConfigChange(cfgB), data(0)},
			containers: 1,
			lastConfig: cfgB,
		},
		{
			name:       "change after data restarts",
			policy:     PolicyRestart,
			chunks:     []ports.EncodedChunk{ports.ConfigChange(cfgA), data(0), data(1), ports.ConfigChange(cfgB), data(2)},
			containers: 2,
			lastConfig: cfgB,
		},
		{
			name:       "change after data rejected",
			policy:     PolicyReject,
			chunks:     []ports.EncodedChunk{ports.ConfigChange(cfgA), data(0), ports.ConfigChange(cfgB), data(1)},
			wantErr:    pipeline.ErrRemuxState,
			containers: 1,
			lastConfig: cfgA,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			muxer := &mocks.Muxer{}
			stage := New(muxer, tt.policy, logger.NewNoop())

			segs, err := run(t, stage, tt.chunks...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			assertContiguous(t, segs)
			cfgs := muxer.Configs()
			if len(cfgs) != tt.containers {
				t.Fatalf("expected %d containers, got %d", tt.containers, len(cfgs))
			}
			if !cfgs[len(cfgs)-1].Equal(tt.lastConfig) {
				t.Errorf("expected last container for %+v, got %+v", tt.lastConfig, cfgs[len(cfgs)-1])
			}
			for i, w := range muxer.Writers() {
				if !w.Closed() {
					t.Errorf("container %d was not closed", i)
				}
			}
		})
	}
}

func TestStage_Run_RestartFinalizesFirst(t *testing.T) {
	muxer := &mocks.Muxer{}
	stage := New(muxer, PolicyRestart, logger.NewNoop())

	segs, err := run(t, stage, ports.ConfigChange(cfgA), data(0), ports.ConfigChange(cfgB), data(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// header A, chunk 0, header B, chunk 1
	if len(segs) != 4 {
		t.Fatalf("expected 4 segments, got %d", len(segs))
	}
	if segs[2].Data[0] != 0x1A {
		t.Errorf("expected second container header at segment 2, got %x", segs[2].Data)
	}
	assertContiguous(t, segs)
	if stage.Containers() != 2 {
		t.Errorf("expected 2 containers, got %d", stage.Containers())
	}
}

func TestStage_Run_Errors(t *testing.T) {
	t.Run("data before config", func(t *testing.T) {
		stage := New(&mocks.Muxer{}, PolicyRestart, logger.NewNoop())
		_, err := run(t, stage, data(0))
		if !errors.Is(err, pipeline.ErrProtocol) {
			t.Errorf("expected ErrProtocol, got %v", err)
		}
	})

	t.Run("writer cannot open", func(t *testing.T) {
		cause := errors.New("bad codec private")
		stage := New(&mocks.Muxer{NewWriterErr: cause}, PolicyRestart, logger.NewNoop())
		_, err := run(t, stage, ports.ConfigChange(cfgA), data(0))
		if !errors.Is(err, cause) {
			t.Errorf("expected the writer error, got %v", err)
		}
		if errors.Is(err, pipeline.ErrRemuxState) {
			t.Errorf("writer failures must not be reported as ErrRemuxState: %v", err)
		}
	})

	t.Run("unsupported codec keeps its kind", func(t *testing.T) {
		stage := New(webmmuxer.New(), PolicyRestart, logger.NewNoop())
		h264 := ports.ContainerConfig{Codec: "avc1.64001f", Width: 320, Height: 240}
		_, err := run(t, stage, ports.ConfigChange(h264), data(0))
		if !errors.Is(err, pipeline.ErrUnsupportedConfig) {
			t.Errorf("expected ErrUnsupportedConfig, got %v", err)
		}
	})

	t.Run("write fails", func(t *testing.T) {
		cause := errors.New("block too large")
		muxer := &mocks.Muxer{WriteChunkErr: cause}
		stage := New(muxer, PolicyRestart, logger.NewNoop())
		_, err := run(t, stage, ports.ConfigChange(cfgA), data(0))
		if !errors.Is(err, cause) || errors.Is(err, pipeline.ErrRemuxState) {
			t.Errorf("expected the write error without ErrRemuxState, got %v", err)
		}
		if w := muxer.Writers(); len(w) != 1 || !w[0].Closed() {
			t.Error("expected the writer to be closed on error")
		}
	})
}

func TestStage_Run_Cancelled(t *testing.T) {
	stage := New(&mocks.Muxer{}, PolicyRestart, logger.NewNoop())

	in := make(chan ports.EncodedChunk, 3)
	in <- ports.ConfigChange(cfgA)
	in <- data(0)
	in <- data(1)
	close(in)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan ports.ContainerSegment) // never read
	done := make(chan error, 1)
	go func() { done <- stage.Run(ctx, in, out) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// The WebM writer blocks inside its own goroutine when the consumer stops
// reading. Cancelling must still unwind Run.
func TestStage_Run_CancelledWhileOutputStalled(t *testing.T) {
	stage := New(webmmuxer.New(), PolicyRestart, logger.NewNoop())

	in := make(chan ports.EncodedChunk, 8)
	out := make(chan ports.ContainerSegment)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- stage.Run(ctx, in, out) }()

	in <- ports.ConfigChange(cfgA)
	in <- data(0)

	// drain the header and the first block, then stop reading
	for drained := false; !drained; {
		select {
		case <-out:
		case <-time.After(100 * time.Millisecond):
			drained = true
		}
	}

	for i := 1; i <= 4; i++ {
		in <- data(i)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel with a stalled output")
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    Policy
		wantErr bool
	}{
		{"", PolicyRestart, false},
		{"restart", PolicyRestart, false},
		{"reject", PolicyReject, false},
		{"ignore", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePolicy(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePolicy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePolicy(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
