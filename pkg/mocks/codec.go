// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/webmshrink/pkg/ports"
)

// VideoDecoder is a mock implementation of ports.VideoDecoder.
//
// Every decoded sample yields one frame carrying the sample timestamp. Frames
// are delivered on a buffered channel, so output is asynchronous with respect
// to Decode. Created and Released count frames for ownership checks.
type VideoDecoder struct {
	IsConfigSupportedFunc func(cfg ports.ContainerConfig) bool
	ConfigureFunc         func(cfg ports.ContainerConfig) error
	DecodeErr             error

	// AsyncErr, when set, fails the decoder once AsyncErrAfter samples were
	// decoded: Frames() is closed and Err reports AsyncErr.
	AsyncErr      error
	AsyncErrAfter int

	// TimestampFunc rewrites output timestamps, e.g. to simulate reordering.
	TimestampFunc func(index int, sample ports.EncodedSample) time.Duration

	Created  atomic.Int64
	Released atomic.Int64

	mu         sync.Mutex
	configured []ports.ContainerConfig
	samples    []ports.EncodedSample
	frames     chan *ports.VideoFrame
	closeOnce  sync.Once
	err        error
	flushed    bool
	closed     bool
}

func (m *VideoDecoder) IsConfigSupported(cfg ports.ContainerConfig) bool {
	if m.IsConfigSupportedFunc != nil {
		return m.IsConfigSupportedFunc(cfg)
	}
	return true
}

func (m *VideoDecoder) Configure(cfg ports.ContainerConfig) error {
	if m.ConfigureFunc != nil {
		if err := m.ConfigureFunc(cfg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configured = append(m.configured, cfg)
	if m.frames == nil {
		m.frames = make(chan *ports.VideoFrame, 256)
	}
	return nil
}

func (m *VideoDecoder) Decode(ctx context.Context, sample ports.EncodedSample) error {
	if m.DecodeErr != nil {
		return m.DecodeErr
	}

	m.mu.Lock()
	if m.frames == nil {
		m.mu.Unlock()
		return errors.New("mock decoder: not configured")
	}
	if m.err != nil {
		m.mu.Unlock()
		return m.err
	}
	index := len(m.samples)
	m.samples = append(m.samples, sample)
	cfg := m.configured[len(m.configured)-1]
	fail := m.AsyncErr != nil && len(m.samples) > m.AsyncErrAfter
	m.mu.Unlock()

	if fail {
		m.fail(m.AsyncErr)
		return nil
	}

	ts := sample.Timestamp
	if m.TimestampFunc != nil {
		ts = m.TimestampFunc(index, sample)
	}
	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		w, h = 16, 16
	}
	m.Created.Add(1)
	frame := ports.NewVideoFrame(image.NewRGBA(image.Rect(0, 0, w, h)), ts, sample.Duration, func() {
		m.Released.Add(1)
	})

	select {
	case m.frames <- frame:
		return nil
	case <-ctx.Done():
		frame.Release()
		return ctx.Err()
	}
}

func (m *VideoDecoder) Frames() <-chan *ports.VideoFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frames == nil {
		m.frames = make(chan *ports.VideoFrame, 256)
	}
	return m.frames
}

func (m *VideoDecoder) Flush(ctx context.Context) error {
	m.mu.Lock()
	m.flushed = true
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.closeFrames()
	return nil
}

func (m *VideoDecoder) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *VideoDecoder) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.closeFrames()
	return nil
}

func (m *VideoDecoder) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	m.closeFrames()
}

func (m *VideoDecoder) closeFrames() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		if m.frames == nil {
			m.frames = make(chan *ports.VideoFrame)
		}
		ch := m.frames
		m.mu.Unlock()
		close(ch)
	})
}

// Configured returns every configuration passed to Configure.
func (m *VideoDecoder) Configured() []ports.ContainerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.ContainerConfig(nil), m.configured...)
}

// Samples returns the samples submitted so far.
func (m *VideoDecoder) Samples() []ports.EncodedSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.EncodedSample(nil), m.samples...)
}

// Flushed reports whether Flush was called.
func (m *VideoDecoder) Flushed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushed
}

// Closed reports whether Close was called.
func (m *VideoDecoder) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ ports.VideoDecoder = (*VideoDecoder)(nil)

// VideoEncoder is a mock implementation of ports.VideoEncoder.
//
// Every encoded frame yields one output of ChunkSize bytes. The first output,
// and every KeyInterval-th after it, is a key chunk. Output configs come from
// OutputConfigFunc, defaulting to the configured codec and size on the first
// output only.
type VideoEncoder struct {
	IsConfigSupportedFunc func(cfg ports.EncoderConfig) bool
	ConfigureFunc         func(cfg ports.EncoderConfig) error
	EncodeErr             error
	OutputConfigFunc      func(index int, cfg ports.EncoderConfig) *ports.ContainerConfig
	ChunkSize             int
	KeyInterval           int

	mu         sync.Mutex
	config     *ports.EncoderConfig
	timestamps []time.Duration
	outputs    chan ports.EncodedOutput
	closeOnce  sync.Once
	flushed    bool
	closed     bool
}

func (m *VideoEncoder) IsConfigSupported(cfg ports.EncoderConfig) bool {
	if m.IsConfigSupportedFunc != nil {
		return m.IsConfigSupportedFunc(cfg)
	}
	return true
}

func (m *VideoEncoder) Configure(cfg ports.EncoderConfig) error {
	if m.ConfigureFunc != nil {
		if err := m.ConfigureFunc(cfg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = &cfg
	if m.outputs == nil {
		m.outputs = make(chan ports.EncodedOutput, 256)
	}
	return nil
}

func (m *VideoEncoder) Encode(ctx context.Context, frame *ports.VideoFrame) error {
	if m.EncodeErr != nil {
		return m.EncodeErr
	}

	m.mu.Lock()
	if m.config == nil {
		m.mu.Unlock()
		return errors.New("mock encoder: not configured")
	}
	index := len(m.timestamps)
	m.timestamps = append(m.timestamps, frame.Timestamp)
	cfg := *m.config
	m.mu.Unlock()

	size := m.ChunkSize
	if size <= 0 {
		size = 100
	}
	chunkType := ports.ChunkDelta
	if index == 0 || (m.KeyInterval > 0 && index%m.KeyInterval == 0) {
		chunkType = ports.ChunkKey
	}

	var outCfg *ports.ContainerConfig
	if m.OutputConfigFunc != nil {
		outCfg = m.OutputConfigFunc(index, cfg)
	} else if index == 0 {
		outCfg = &ports.ContainerConfig{Codec: cfg.Codec, Width: cfg.Width, Height: cfg.Height}
	}

	out := ports.EncodedOutput{
		Chunk: ports.DataChunk{
			Data:      make([]byte, size),
			Type:      chunkType,
			Timestamp: frame.Timestamp,
			Duration:  frame.Duration,
		},
		Config: outCfg,
	}

	select {
	case m.outputs <- out:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *VideoEncoder) Outputs() <-chan ports.EncodedOutput {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outputs == nil {
		m.outputs = make(chan ports.EncodedOutput, 256)
	}
	return m.outputs
}

func (m *VideoEncoder) Flush(ctx context.Context) error {
	m.mu.Lock()
	m.flushed = true
	m.mu.Unlock()
	m.closeOutputs()
	return nil
}

func (m *VideoEncoder) Err() error { return nil }

func (m *VideoEncoder) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.closeOutputs()
	return nil
}

func (m *VideoEncoder) closeOutputs() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		if m.outputs == nil {
			m.outputs = make(chan ports.EncodedOutput)
		}
		ch := m.outputs
		m.mu.Unlock()
		close(ch)
	})
}

// Config returns the configuration passed to Configure, or nil.
func (m *VideoEncoder) Config() *ports.EncoderConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Timestamps returns the timestamps of every encoded frame.
func (m *VideoEncoder) Timestamps() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.timestamps...)
}

// Flushed reports whether Flush was called.
func (m *VideoEncoder) Flushed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushed
}

// Closed reports whether Close was called.
func (m *VideoEncoder) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ ports.VideoEncoder = (*VideoEncoder)(nil)

// CodecFactory is a mock implementation of ports.CodecFactory.
// Without overrides it hands out fresh default mocks and keeps them for
// inspection.
type CodecFactory struct {
	NewDecoderFunc func() ports.VideoDecoder
	NewEncoderFunc func() ports.VideoEncoder

	mu       sync.Mutex
	Decoders []ports.VideoDecoder
	Encoders []ports.VideoEncoder
}

func (m *CodecFactory) NewDecoder() ports.VideoDecoder {
	var d ports.VideoDecoder
	if m.NewDecoderFunc != nil {
		d = m.NewDecoderFunc()
	} else {
		d = &VideoDecoder{}
	}
	m.mu.Lock()
	m.Decoders = append(m.Decoders, d)
	m.mu.Unlock()
	return d
}

func (m *CodecFactory) NewEncoder() ports.VideoEncoder {
	var e ports.VideoEncoder
	if m.NewEncoderFunc != nil {
		e = m.NewEncoderFunc()
	} else {
		e = &VideoEncoder{}
	}
	m.mu.Lock()
	m.Encoders = append(m.Encoders, e)
	m.mu.Unlock()
	return e
}

// DecoderCount returns how many decoders were created.
func (m *CodecFactory) DecoderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Decoders)
}

var _ ports.CodecFactory = (*CodecFactory)(nil)
