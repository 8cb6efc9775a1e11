package mocks

import (
	"sync"
	"time"

	"github.com/user/webmshrink/pkg/ports"
)

// FrameRenderer is a mock implementation of ports.FrameRenderer that records
// the timestamp of every rendered frame.
type FrameRenderer struct {
	RenderFrameFunc func(frame *ports.VideoFrame) error

	mu       sync.Mutex
	rendered []time.Duration
}

func (m *FrameRenderer) RenderFrame(frame *ports.VideoFrame) error {
	if m.RenderFrameFunc != nil {
		if err := m.RenderFrameFunc(frame); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rendered = append(m.rendered, frame.Timestamp)
	return nil
}

// Rendered returns the timestamps of the rendered frames.
func (m *FrameRenderer) Rendered() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.rendered...)
}

var _ ports.FrameRenderer = (*FrameRenderer)(nil)
