// Package summarizer provides summary generation for transcode jobs.
package summarizer

import (
	"time"

	"github.com/user/webmshrink/pkg/orchestrator"
)

// Summary contains all data collected during a transcode job.
type Summary struct {
	// Metadata
	GeneratedAt time.Time

	// Input file
	Input InputInfo

	// Encoding settings
	Settings Settings

	// Pipeline counters
	Results Results

	// Uploaded output
	Output OutputInfo
}

// InputInfo describes the transcoded input.
type InputInfo struct {
	Name string
	Size int64
}

// Settings contains the transcode configuration.
type Settings struct {
	Preset               string
	Codec                string
	Width                int
	Height               int
	Bitrate              int // bits per second
	Framerate            float64
	HardwareAcceleration string
	RemuxPolicy          string

	// Upload
	Target    string
	Threshold int64
}

// Results contains the counters reported by the pipeline.
type Results struct {
	Stopped bool

	Samples        int64
	FramesDecoded  int64
	FramesEncoded  int64
	Chunks         int64
	FramesRendered int64
	RenderDrops    int64
	Segments       int64
	Containers     int64

	DurationMs int
}

// OutputInfo contains information about the uploaded output.
type OutputInfo struct {
	Filename string
	// Location is where the target stored the output, e.g. a directory or
	// a Swift container.
	Location string
	Bytes    int64
	Flushes  int64
}

// NewSummary creates a new Summary with the current timestamp.
func NewSummary() *Summary {
	return &Summary{
		GeneratedAt: time.Now(),
	}
}

// Builder provides a fluent interface for building a Summary.
type Builder struct {
	summary *Summary
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{
		summary: NewSummary(),
	}
}

// WithInput sets input information.
func (b *Builder) WithInput(name string, size int64) *Builder {
	b.summary.Input = InputInfo{
		Name: name,
		Size: size,
	}
	return b
}

// WithSettings sets transcode settings.
func (b *Builder) WithSettings(settings Settings) *Builder {
	b.summary.Settings = settings
	return b
}

// WithLocation sets where the output was stored.
func (b *Builder) WithLocation(location string) *Builder {
	b.summary.Output.Location = location
	return b
}

// WithDone copies the counters of a done message.
func (b *Builder) WithDone(done orchestrator.DoneMessage) *Builder {
	b.summary.Results = Results{
		Stopped:        done.Stopped,
		Samples:        done.Samples,
		FramesDecoded:  done.FramesDecoded,
		FramesEncoded:  done.FramesEncoded,
		Chunks:         done.Chunks,
		FramesRendered: done.FramesRendered,
		RenderDrops:    done.RenderDrops,
		Segments:       done.Segments,
		Containers:     done.Containers,
		DurationMs:     int(done.Duration.Milliseconds()),
	}
	b.summary.Output.Filename = done.Filename
	b.summary.Output.Bytes = done.Bytes
	b.summary.Output.Flushes = done.Flushes
	return b
}

// Build returns the constructed Summary.
func (b *Builder) Build() *Summary {
	return b.summary
}
