// Package upload implements the chunked upload sink, the last stage of the
// pipeline. Segments are buffered and handed to an upload transport in units
// of at least the configured threshold.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/user/webmshrink/pkg/metrics"
	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
)

// DefaultThreshold is the buffered size above which the sink flushes.
const DefaultThreshold = 10_000_000

// Options configures a Sink.
type Options struct {
	// Filename names the uploaded object.
	Filename string
	// Threshold is the flush threshold in bytes; a flush happens once the
	// buffer grows strictly above it. Zero selects DefaultThreshold.
	Threshold int64
	// KeepOutput retains a copy of every flushed byte, see Output.
	KeepOutput bool
}

// Sink accumulates container segments and flushes them to an upload
// transport. Flushes are synchronous: the next segment is not accepted until
// the previous unit was uploaded.
type Sink struct {
	transport ports.UploadTransport
	sink      ports.DebugSink
	logger    ports.Logger
	opts      Options

	// upload buffer
	pending [][]byte
	size    int64

	offset  int64
	units   []unitRecord
	output  bytes.Buffer
	closed  bool
	err     error
	flushes atomic.Int64
	bytes   atomic.Int64
}

// unitRecord describes a flushed unit in the upload manifest.
type unitRecord struct {
	Index  int   `json:"index"`
	Offset int64 `json:"offset"`
	Size   int   `json:"size"`
}

// New creates a new upload sink.
func New(transport ports.UploadTransport, sink ports.DebugSink, logger ports.Logger, opts Options) *Sink {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &Sink{
		transport: transport,
		sink:      sink,
		logger:    logger.WithComponent("upload"),
		opts:      opts,
	}
}

// Run implements pipeline.Sink. When in is closed normally it performs the
// final flush and completes the upload. On cancellation or error the upload
// is aborted and nothing further is flushed.
func (s *Sink) Run(ctx context.Context, in <-chan ports.ContainerSegment) error {
	for {
		seg, ok, err := pipeline.Receive(ctx, in)
		if err != nil {
			return s.abort(ctx, err)
		}
		if !ok {
			break
		}
		if err := s.Write(ctx, seg); err != nil {
			return s.abort(ctx, err)
		}
	}

	// A closed input after an abort is not the end of the stream.
	if err := ctx.Err(); err != nil {
		return s.abort(ctx, err)
	}
	if err := s.Close(ctx); err != nil {
		return s.abort(ctx, err)
	}

	summary := ports.UploadSummary{
		Filename:   s.opts.Filename,
		Units:      int(s.flushes.Load()),
		TotalBytes: s.bytes.Load(),
	}
	if err := s.transport.Complete(ctx, summary); err != nil {
		return s.abort(ctx, uploadError("complete upload", err))
	}
	s.saveManifest()

	s.logger.Debug("Uploaded %d bytes in %d units", summary.TotalBytes, summary.Units)
	return nil
}

// Write appends a segment to the buffer and flushes once the buffer exceeds
// the threshold. Segments must arrive in position order.
func (s *Sink) Write(ctx context.Context, seg ports.ContainerSegment) error {
	if s.err != nil {
		return s.err
	}
	if s.closed {
		return fmt.Errorf("%w: write after close", pipeline.ErrProtocol)
	}
	if want := s.offset + s.size; seg.Position != want {
		return fmt.Errorf("%w: segment at %d, expected %d", pipeline.ErrProtocol, seg.Position, want)
	}
	if len(seg.Data) == 0 {
		return nil
	}

	s.pending = append(s.pending, seg.Data)
	s.size += int64(len(seg.Data))

	if s.size > s.opts.Threshold {
		return s.flush(ctx)
	}
	return nil
}

// Close flushes whatever is left in the buffer. Calling it again is a no-op.
func (s *Sink) Close(ctx context.Context) error {
	if s.closed {
		return s.err
	}
	s.closed = true
	if s.err != nil {
		return s.err
	}
	if s.size > 0 {
		return s.flush(ctx)
	}
	return nil
}

// Flushes returns the number of units uploaded.
func (s *Sink) Flushes() int64 {
	return s.flushes.Load()
}

// Bytes returns the number of bytes uploaded.
func (s *Sink) Bytes() int64 {
	return s.bytes.Load()
}

// Output returns every flushed byte when KeepOutput is set, nil otherwise.
// It must not be called while the sink is running.
func (s *Sink) Output() []byte {
	if !s.opts.KeepOutput {
		return nil
	}
	return s.output.Bytes()
}

func (s *Sink) flush(ctx context.Context) error {
	data := make([]byte, 0, s.size)
	for _, p := range s.pending {
		data = append(data, p...)
	}

	unit := ports.UploadUnit{
		Filename: s.opts.Filename,
		Index:    len(s.units),
		Offset:   s.offset,
		Data:     data,
	}

	start := time.Now()
	err := s.transport.Upload(ctx, unit)
	metrics.UploadFlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UploadFlushesTotal.WithLabelValues("error").Inc()
		s.err = uploadError(fmt.Sprintf("upload unit %d", unit.Index), err)
		return s.err
	}
	metrics.UploadFlushesTotal.WithLabelValues("ok").Inc()
	metrics.UploadBytesTotal.Add(float64(len(data)))

	s.logger.Debug("Flushed unit %d: %d bytes at offset %d", unit.Index, len(data), unit.Offset)
	s.units = append(s.units, unitRecord{Index: unit.Index, Offset: unit.Offset, Size: len(data)})
	if s.opts.KeepOutput {
		s.output.Write(data)
	}

	s.offset += s.size
	s.pending = s.pending[:0]
	s.size = 0
	s.flushes.Add(1)
	s.bytes.Add(int64(len(data)))
	return nil
}

// abort discards the upload and returns err.
func (s *Sink) abort(ctx context.Context, err error) error {
	s.closed = true
	s.pending = nil
	s.size = 0
	if aerr := s.transport.Abort(context.WithoutCancel(ctx), s.opts.Filename); aerr != nil {
		s.logger.Debug("Abort upload of %s: %v", s.opts.Filename, aerr)
	}
	return err
}

func (s *Sink) saveManifest() {
	if !s.sink.Enabled() {
		return
	}
	data, err := json.MarshalIndent(struct {
		Filename string       `json:"filename"`
		Units    []unitRecord `json:"units"`
	}{s.opts.Filename, s.units}, "", "  ")
	if err != nil {
		return
	}
	s.sink.SaveUploadManifest(data)
}

func uploadError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", pipeline.ErrUploadFailure, op, err)
}

var _ pipeline.Sink[ports.ContainerSegment] = (*Sink)(nil)
