package mocks

import (
	"context"
	"io"
	"sync"

	"github.com/user/webmshrink/pkg/ports"
)

// Demuxer is a mock implementation of ports.Demuxer that replays Config and
// Samples.
type Demuxer struct {
	Config  ports.ContainerConfig
	Samples []ports.EncodedSample

	OpenErr error
	// SampleErr is returned instead of the sample at SampleErrAt.
	SampleErr   error
	SampleErrAt int

	mu     sync.Mutex
	next   int
	opened bool
	closed bool
}

func (m *Demuxer) Open(r io.ReadSeeker) (ports.ContainerConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	if m.OpenErr != nil {
		return ports.ContainerConfig{}, m.OpenErr
	}
	return m.Config, nil
}

func (m *Demuxer) NextSample() (ports.EncodedSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SampleErr != nil && m.next == m.SampleErrAt {
		return ports.EncodedSample{}, m.SampleErr
	}
	if m.next >= len(m.Samples) {
		return ports.EncodedSample{}, io.EOF
	}
	s := m.Samples[m.next]
	m.next++
	return s, nil
}

func (m *Demuxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *Demuxer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ ports.Demuxer = (*Demuxer)(nil)

// Muxer is a mock implementation of ports.Muxer. Each writer writes Header
// once, then every chunk payload verbatim.
type Muxer struct {
	Header        []byte
	NewWriterErr  error
	WriteChunkErr error

	mu      sync.Mutex
	configs []ports.ContainerConfig
	writers []*ContainerWriter
}

func (m *Muxer) NewWriter(w io.WriteCloser, cfg ports.ContainerConfig) (ports.ContainerWriter, error) {
	if m.NewWriterErr != nil {
		return nil, m.NewWriterErr
	}
	header := m.Header
	if header == nil {
		header = []byte{0x1A, 0x45, 0xDF, 0xA3}
	}
	if _, err := w.Write(header); err != nil {
		return nil, err
	}
	cw := &ContainerWriter{w: w, writeErr: m.WriteChunkErr}
	m.mu.Lock()
	m.configs = append(m.configs, cfg)
	m.writers = append(m.writers, cw)
	m.mu.Unlock()
	return cw, nil
}

// Configs returns the configuration of every writer created so far.
func (m *Muxer) Configs() []ports.ContainerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.ContainerConfig(nil), m.configs...)
}

// Writers returns every writer created so far.
func (m *Muxer) Writers() []*ContainerWriter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ContainerWriter(nil), m.writers...)
}

var _ ports.Muxer = (*Muxer)(nil)

// ContainerWriter is the writer handed out by Muxer.
type ContainerWriter struct {
	w        io.WriteCloser
	writeErr error

	mu     sync.Mutex
	Chunks []ports.DataChunk
	closed bool
}

func (m *ContainerWriter) WriteChunk(chunk ports.DataChunk) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	m.Chunks = append(m.Chunks, chunk)
	m.mu.Unlock()
	_, err := m.w.Write(chunk.Data)
	return err
}

func (m *ContainerWriter) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.w.Close()
}

// Closed reports whether Close was called.
func (m *ContainerWriter) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ ports.ContainerWriter = (*ContainerWriter)(nil)

// UploadTransport is a mock implementation of ports.UploadTransport.
type UploadTransport struct {
	UploadFunc   func(ctx context.Context, unit ports.UploadUnit) error
	CompleteFunc func(ctx context.Context, summary ports.UploadSummary) error

	mu       sync.Mutex
	units    []ports.UploadUnit
	summary  *ports.UploadSummary
	aborted  []string
	inFlight int
	maxIn    int
}

func (m *UploadTransport) Upload(ctx context.Context, unit ports.UploadUnit) error {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxIn {
		m.maxIn = m.inFlight
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.UploadFunc != nil {
		if err := m.UploadFunc(ctx, unit); err != nil {
			return err
		}
	}
	unit.Data = append([]byte(nil), unit.Data...)
	m.mu.Lock()
	m.units = append(m.units, unit)
	m.mu.Unlock()
	return nil
}

func (m *UploadTransport) Complete(ctx context.Context, summary ports.UploadSummary) error {
	if m.CompleteFunc != nil {
		if err := m.CompleteFunc(ctx, summary); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = &summary
	return nil
}

func (m *UploadTransport) Abort(ctx context.Context, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted = append(m.aborted, filename)
	return nil
}

// Units returns the uploaded units in order.
func (m *UploadTransport) Units() []ports.UploadUnit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.UploadUnit(nil), m.units...)
}

// Summary returns the summary passed to Complete, or nil.
func (m *UploadTransport) Summary() *ports.UploadSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

// Aborted returns the filenames passed to Abort.
func (m *UploadTransport) Aborted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.aborted...)
}

// MaxInFlight returns the highest number of concurrent Upload calls seen.
func (m *UploadTransport) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxIn
}

// Bytes returns the concatenation of every uploaded unit.
func (m *UploadTransport) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []byte
	for _, u := range m.units {
		out = append(out, u.Data...)
	}
	return out
}

var _ ports.UploadTransport = (*UploadTransport)(nil)
