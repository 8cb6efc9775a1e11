// Package webmmuxer writes WebM containers with ebml-go.
package webmmuxer

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"

	"github.com/user/webmshrink/pkg/adapters/codecdetect"
	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
)

const videoTrackNumber = 1

// ErrWriterStopped is returned when a block is written after the container
// output was closed.
var ErrWriterStopped = errors.New("webmmuxer: writer stopped")

// Muxer implements ports.Muxer.
type Muxer struct{}

// New creates a new WebM muxer.
func New() *Muxer {
	return &Muxer{}
}

// CodecID returns the Matroska codec ID of a codec string.
func CodecID(codec string) (string, bool) {
	switch codecdetect.Family(codec) {
	case codecdetect.CodecVP8:
		return "V_VP8", true
	case codecdetect.CodecVP9:
		return "V_VP9", true
	case codecdetect.CodecAV1:
		return "V_AV1", true
	}
	return "", false
}

// NewWriter writes the container header for cfg to w and returns a writer
// for its blocks.
func (m *Muxer) NewWriter(w io.WriteCloser, cfg ports.ContainerConfig) (ports.ContainerWriter, error) {
	codecID, ok := CodecID(cfg.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot be stored in WebM", pipeline.ErrUnsupportedConfig, cfg.Codec)
	}

	cw := &containerWriter{
		closed: make(chan struct{}),
		fatal:  make(chan struct{}),
	}
	out := &notifyCloser{WriteCloser: w, closed: cw.closed}

	tracks := []webm.TrackEntry{{
		Name:         "Video",
		TrackNumber:  videoTrackNumber,
		TrackUID:     videoTrackNumber,
		CodecID:      codecID,
		TrackType:    1,
		CodecPrivate: cfg.Description,
		Video: &webm.Video{
			PixelWidth:  uint64(cfg.Width),
			PixelHeight: uint64(cfg.Height),
		},
	}}

	writers, err := webm.NewSimpleBlockWriter(out, tracks,
		mkvcore.WithOnErrorHandler(cw.setErr),
		mkvcore.WithOnFatalHandler(cw.setFatal),
	)
	if err != nil {
		return nil, fmt.Errorf("create webm writer: %w", err)
	}
	cw.block = writers[0]
	return cw, nil
}

// containerWriter implements ports.ContainerWriter.
type containerWriter struct {
	block webm.BlockWriteCloser

	mu        sync.Mutex
	err       error
	closed    chan struct{}
	fatal     chan struct{}
	fatalOnce sync.Once
}

// WriteChunk appends one block. Timestamps are stored in milliseconds.
//
// The block writer hands frames to its own goroutine over an unbuffered
// channel. Once that goroutine gave up, a plain send would block forever, so
// the send runs aside and WriteChunk also returns when the writer failed or
// closed its output. An abandoned send stays parked until the process exits.
func (w *containerWriter) WriteChunk(chunk ports.DataChunk) error {
	if err := w.Err(); err != nil {
		return err
	}

	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := w.block.Write(chunk.Type == ports.ChunkKey, chunk.Timestamp.Milliseconds(), chunk.Data)
		done <- result{err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("write block: %w", r.err)
		}
		return w.Err()
	case <-w.fatal:
	case <-w.closed:
	}
	if err := w.Err(); err != nil {
		return err
	}
	return ErrWriterStopped
}

// Close finalizes the container and waits until the underlying writer was
// closed, or the block writer gave up.
func (w *containerWriter) Close() error {
	if err := w.block.Close(); err != nil {
		return err
	}
	select {
	case <-w.closed:
	case <-w.fatal:
	}
	return w.Err()
}

// Err returns the first error the block writer reported.
func (w *containerWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *containerWriter) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

func (w *containerWriter) setFatal(err error) {
	w.setErr(err)
	w.fatalOnce.Do(func() { close(w.fatal) })
}

// notifyCloser signals when the block writer closed its output.
type notifyCloser struct {
	io.WriteCloser
	once   sync.Once
	closed chan struct{}
}

func (n *notifyCloser) Close() error {
	err := n.WriteCloser.Close()
	n.once.Do(func() { close(n.closed) })
	return err
}
