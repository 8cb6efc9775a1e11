package webmmuxer

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
)

// bufferCloser collects everything written and records Close.
type bufferCloser struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *bufferCloser) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *bufferCloser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *bufferCloser) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestNewWriter_WritesWebM(t *testing.T) {
	out := &bufferCloser{}
	w, err := New().NewWriter(out, ports.ContainerConfig{Codec: "vp09.00.10.08", Width: 320, Height: 240})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	for i := 0; i < 5; i++ {
		chunk := ports.DataChunk{
			Data:      bytes.Repeat([]byte{byte(i)}, 100),
			Type:      ports.ChunkDelta,
			Timestamp: time.Duration(i) * 33 * time.Millisecond,
		}
		if i == 0 {
			chunk.Type = ports.ChunkKey
		}
		if err := w.WriteChunk(chunk); err != nil {
			t.Fatalf("WriteChunk %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !out.closed {
		t.Error("expected the output to be closed")
	}
	data := out.Bytes()
	if !bytes.HasPrefix(data, []byte{0x1a, 0x45, 0xdf, 0xa3}) {
		t.Errorf("output does not start with an EBML header: %x", data[:min(len(data), 8)])
	}
	if !bytes.Contains(data, []byte("webm")) {
		t.Error("expected webm doc type")
	}
	if !bytes.Contains(data, []byte("V_VP9")) {
		t.Error("expected V_VP9 codec ID")
	}
	if !bytes.Contains(data, bytes.Repeat([]byte{4}, 100)) {
		t.Error("expected the last block payload in the output")
	}
}

// stallingWriter accepts writes until stall is set, then blocks each write
// until release is closed and fails it.
type stallingWriter struct {
	bufferCloser
	stall   atomic.Bool
	release chan struct{}
}

var errOutputGone = errors.New("output gone")

func (s *stallingWriter) Write(p []byte) (int, error) {
	if s.stall.Load() {
		<-s.release
		return 0, errOutputGone
	}
	return s.bufferCloser.Write(p)
}

func TestWriteChunk_ReturnsAfterWriterFailed(t *testing.T) {
	out := &stallingWriter{release: make(chan struct{})}
	w, err := New().NewWriter(out, ports.ContainerConfig{Codec: "vp8", Width: 320, Height: 240})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	out.stall.Store(true)

	// taken by the block writer, which then blocks on the output
	if err := w.WriteChunk(ports.DataChunk{Data: []byte{1}, Type: ports.ChunkKey}); err != nil {
		t.Fatalf("WriteChunk 0: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- w.WriteChunk(ports.DataChunk{Data: []byte{2}, Timestamp: 33 * time.Millisecond})
	}()

	time.Sleep(20 * time.Millisecond)
	close(out.release)

	select {
	case err := <-done:
		if !errors.Is(err, errOutputGone) {
			t.Errorf("expected the output error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WriteChunk did not return after the block writer failed")
	}

	closed := make(chan error, 1)
	go func() { closed <- w.Close() }()
	select {
	case err := <-closed:
		if !errors.Is(err, errOutputGone) {
			t.Errorf("Close: expected the output error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the block writer failed")
	}

	if err := w.WriteChunk(ports.DataChunk{Data: []byte{3}, Timestamp: 66 * time.Millisecond}); err == nil {
		t.Error("expected an error after the writer failed")
	}
}

func TestNewWriter_Unsupported(t *testing.T) {
	_, err := New().NewWriter(&bufferCloser{}, ports.ContainerConfig{Codec: "avc1.64001f", Width: 320, Height: 240})
	if !errors.Is(err, pipeline.ErrUnsupportedConfig) {
		t.Fatalf("expected ErrUnsupportedConfig, got %v", err)
	}
}

func TestCodecID(t *testing.T) {
	tests := map[string]string{
		"vp8":           "V_VP8",
		"vp09.00.10.08": "V_VP9",
		"av01.0.04M.08": "V_AV1",
	}
	for codec, want := range tests {
		got, ok := CodecID(codec)
		if !ok || got != want {
			t.Errorf("CodecID(%q) = %q, %v; want %q", codec, got, ok, want)
		}
	}
	if _, ok := CodecID("hvc1"); ok {
		t.Error("expected hvc1 to be rejected")
	}
}
