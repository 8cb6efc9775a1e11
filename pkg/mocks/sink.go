package mocks

import (
	"image"
	"sync"

	"github.com/user/webmshrink/pkg/ports"
)

// DebugSink is a mock implementation of ports.DebugSink.
type DebugSink struct {
	mu sync.RWMutex

	enabled bool

	Configs        map[string][]byte
	RenderedFrames map[int]image.Image
	UploadManifest []byte
}

// NewDebugSink creates a new mock DebugSink.
func NewDebugSink(enabled bool) *DebugSink {
	return &DebugSink{
		enabled:        enabled,
		Configs:        make(map[string][]byte),
		RenderedFrames: make(map[int]image.Image),
	}
}

func (m *DebugSink) Enabled() bool {
	return m.enabled
}

func (m *DebugSink) SaveConfigJSON(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Configs[name] = data
	return nil
}

func (m *DebugSink) SaveRenderedFrame(index int, img image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RenderedFrames[index] = img
	return nil
}

func (m *DebugSink) SaveUploadManifest(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UploadManifest = data
	return nil
}

// Config returns the saved configuration JSON for name.
func (m *DebugSink) Config(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.Configs[name]
	return data, ok
}

// RenderedCount returns the number of saved rendered frames.
func (m *DebugSink) RenderedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.RenderedFrames)
}

var _ ports.DebugSink = (*DebugSink)(nil)

// NullSink is a no-op implementation of ports.DebugSink.
type NullSink struct{}

func (m *NullSink) Enabled() bool                                      { return false }
func (m *NullSink) SaveConfigJSON(name string, data []byte) error      { return nil }
func (m *NullSink) SaveRenderedFrame(index int, img image.Image) error { return nil }
func (m *NullSink) SaveUploadManifest(data []byte) error               { return nil }

var _ ports.DebugSink = (*NullSink)(nil)
