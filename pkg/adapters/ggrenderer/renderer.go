// Package ggrenderer provides a preview surface for decoded frames using the
// gg library.
package ggrenderer

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"

	"github.com/user/webmshrink/pkg/ports"
)

// Options configures a Surface.
type Options struct {
	Width      int
	Height     int
	Background color.Color
	TextColor  color.Color

	// FontPath is an optional TrueType font for the timestamp overlay.
	FontPath string
	FontSize float64

	// Every saves one snapshot per this many frames to the debug sink.
	// Zero disables snapshots.
	Every int
}

// Surface implements ports.FrameRenderer. Each frame is letterboxed onto a
// fixed-size canvas with its timestamp in the corner.
type Surface struct {
	opts Options
	sink ports.DebugSink

	mu     sync.Mutex
	dc     *gg.Context
	scaled *image.RGBA
	frames int
	last   time.Duration
}

// New creates a new Surface.
func New(opts Options, sink ports.DebugSink) (*Surface, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid surface size %dx%d", opts.Width, opts.Height)
	}
	if opts.Background == nil {
		opts.Background = color.Black
	}
	if opts.TextColor == nil {
		opts.TextColor = color.White
	}
	if opts.FontSize <= 0 {
		opts.FontSize = 12
	}

	dc := gg.NewContext(opts.Width, opts.Height)
	if opts.FontPath != "" {
		if err := dc.LoadFontFace(opts.FontPath, opts.FontSize); err != nil {
			return nil, fmt.Errorf("load font: %w", err)
		}
	}
	dc.SetColor(opts.Background)
	dc.Clear()

	return &Surface{opts: opts, sink: sink, dc: dc}, nil
}

// RenderFrame draws the frame. It does not keep a reference to it.
func (s *Surface) RenderFrame(frame *ports.VideoFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dc.SetColor(s.opts.Background)
	s.dc.Clear()

	r := fit(frame.Image.Bounds(), s.opts.Width, s.opts.Height)
	if r.Empty() {
		return fmt.Errorf("frame at %v is empty", frame.Timestamp)
	}
	if s.scaled == nil || s.scaled.Bounds().Size() != r.Size() {
		s.scaled = image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	}
	draw.CatmullRom.Scale(s.scaled, s.scaled.Bounds(), frame.Image, frame.Image.Bounds(), draw.Src, nil)
	s.dc.DrawImage(s.scaled, r.Min.X, r.Min.Y)

	s.dc.SetColor(s.opts.TextColor)
	s.dc.DrawStringAnchored(FormatTimestamp(frame.Timestamp),
		float64(s.opts.Width-4), float64(s.opts.Height-4), 1, 0)

	s.frames++
	s.last = frame.Timestamp

	if s.opts.Every > 0 && s.sink != nil && s.sink.Enabled() && (s.frames-1)%s.opts.Every == 0 {
		if err := s.sink.SaveRenderedFrame(s.frames-1, s.dc.Image()); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	return nil
}

// Image returns a copy of the surface.
func (s *Surface) Image() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.dc.Image()
	dst := image.NewRGBA(src.Bounds())
	draw.Copy(dst, image.Point{}, src, src.Bounds(), draw.Src, nil)
	return dst
}

// Frames returns the number of frames drawn so far.
func (s *Surface) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Last returns the timestamp of the last frame drawn.
func (s *Surface) Last() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// fit returns the largest rectangle with the aspect ratio of src centered in
// a width x height canvas.
func fit(src image.Rectangle, width, height int) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw <= 0 || sh <= 0 {
		return image.Rectangle{}
	}

	w, h := width, sh*width/sw
	if h > height {
		w, h = sw*height/sh, height
	}
	x := (width - w) / 2
	y := (height - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// FormatTimestamp renders a timestamp as mm:ss.mmm.
func FormatTimestamp(ts time.Duration) string {
	sign := ""
	if ts < 0 {
		sign = "-"
		ts = -ts
	}
	ms := ts.Milliseconds()
	return fmt.Sprintf("%s%02d:%02d.%03d", sign, ms/60000, (ms/1000)%60, ms%1000)
}

var _ ports.FrameRenderer = (*Surface)(nil)
