// Package orchestrator runs transcode jobs: it builds the stage pipeline for a
// job, runs it to completion and reports the terminal done message.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ideamans/go-l10n"

	"github.com/user/webmshrink/pkg/metrics"
	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
	"github.com/user/webmshrink/pkg/stages/decode"
	"github.com/user/webmshrink/pkg/stages/demux"
	"github.com/user/webmshrink/pkg/stages/encode"
	"github.com/user/webmshrink/pkg/stages/remux"
	"github.com/user/webmshrink/pkg/stages/render"
	"github.com/user/webmshrink/pkg/stages/upload"
)

// StatusDone is the status of a successful done message.
const StatusDone = "done"

// Config contains all configuration for a transcode job.
type Config struct {
	// Encoding
	Codec                string
	Width                int
	Height               int
	Bitrate              int // bits per second
	Framerate            float64
	HardwareAcceleration ports.HardwareAcceleration

	// Output naming; Label defaults to "<height>p".
	Label string

	// Pipeline
	ChannelCapacity int
	ReorderDepth    int
	RemuxPolicy     remux.Policy

	// Rendering
	RenderQueue int

	// Upload
	UploadThreshold int64
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Codec:                "vp09.00.10.08",
		Width:                320,
		Height:               240,
		Bitrate:              10_000_000,
		Framerate:            30,
		HardwareAcceleration: ports.SoftwarePreferred,

		ChannelCapacity: pipeline.DefaultCapacity,
		ReorderDepth:    decode.DefaultReorderDepth,
		RemuxPolicy:     remux.PolicyRestart,

		RenderQueue: render.DefaultQueueSize,

		UploadThreshold: upload.DefaultThreshold,
	}
}

// Job is one transcode request.
type Job struct {
	// Input is the MP4 byte stream.
	Input io.ReadSeeker
	// Name is the input file name; the output is named after it.
	Name string
	// Renderer, when set, receives every frame of the encoded output.
	Renderer ports.FrameRenderer
	// Buffer makes the done message carry the complete output.
	Buffer bool

	Config Config
}

// DoneMessage is reported when a job completes.
type DoneMessage struct {
	Status   string
	Filename string
	// Buffer holds the output bytes in buffering mode.
	Buffer []byte
	// Stopped is set when the job ended early on request.
	Stopped bool

	Samples        int64
	FramesDecoded  int64
	FramesEncoded  int64
	Chunks         int64
	FramesRendered int64
	RenderDrops    int64
	Segments       int64
	Containers     int64
	Flushes        int64
	Bytes          int64
	Duration       time.Duration
}

// Orchestrator coordinates the execution of transcode jobs.
type Orchestrator struct {
	demuxer   ports.Demuxer
	codecs    ports.CodecFactory
	muxer     ports.Muxer
	transport ports.UploadTransport
	sink      ports.DebugSink
	logger    ports.Logger

	mu      sync.Mutex
	current *pipeline.Pipeline
	stopped bool
}

// New creates a new Orchestrator.
func New(
	demuxer ports.Demuxer,
	codecs ports.CodecFactory,
	muxer ports.Muxer,
	transport ports.UploadTransport,
	sink ports.DebugSink,
	logger ports.Logger,
) *Orchestrator {
	return &Orchestrator{
		demuxer:   demuxer,
		codecs:    codecs,
		muxer:     muxer,
		transport: transport,
		sink:      sink,
		logger:    logger,
	}
}

// Stop asks the running job to finish early. Samples already read are still
// transcoded and uploaded, and Run reports a done message.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = true
	if o.current != nil {
		o.current.Stop()
	}
}

// Run executes one job. It returns the done message, or the error that
// aborted the job; cancelling ctx aborts the job as well.
func (o *Orchestrator) Run(ctx context.Context, job Job) (DoneMessage, error) {
	start := time.Now()
	cfg := job.Config
	filename := OutputFilename(job.Name, cfg.Label, cfg.Height)

	o.logger.Info("Transcoding %s to %s (%dx%d, %s)", job.Name, filename, cfg.Width, cfg.Height, cfg.Codec)

	source := demux.New(o.demuxer, job.Input, o.sink, o.logger)
	decodeStage := decode.New(o.codecs.NewDecoder(), cfg.ReorderDepth, o.logger)
	encodeStage := encode.New(o.codecs.NewEncoder(), ports.EncoderConfig{
		Codec:                cfg.Codec,
		Width:                cfg.Width,
		Height:               cfg.Height,
		Bitrate:              cfg.Bitrate,
		Framerate:            cfg.Framerate,
		HardwareAcceleration: cfg.HardwareAcceleration,
	}, o.logger)
	remuxStage := remux.New(o.muxer, cfg.RemuxPolicy, o.logger)
	uploadSink := upload.New(o.transport, o.sink, o.logger, upload.Options{
		Filename:   filename,
		Threshold:  cfg.UploadThreshold,
		KeepOutput: job.Buffer,
	})

	stages := pipeline.Stages{
		Source: source,
		Decode: decodeStage,
		Encode: encodeStage,
		Remux:  remuxStage,
		Sink:   uploadSink,
	}
	var renderStage *render.Stage
	if job.Renderer != nil {
		renderStage = render.New(o.codecs, job.Renderer, o.logger, cfg.RenderQueue)
		stages.Render = renderStage
	}

	p := pipeline.New(stages, cfg.ChannelCapacity, o.logger)
	o.mu.Lock()
	o.current = p
	stopped := o.stopped
	o.mu.Unlock()
	if stopped {
		p.Stop()
	}
	defer func() {
		o.mu.Lock()
		o.current = nil
		o.mu.Unlock()
	}()

	err := p.Run(ctx)
	elapsed := time.Since(start)
	metrics.JobDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.JobsTotal.WithLabelValues("error").Inc()
		o.logger.Error("Transcode failed: %s", describe(err))
		return DoneMessage{}, err
	}

	o.mu.Lock()
	stopped = o.stopped
	o.mu.Unlock()

	done := DoneMessage{
		Status:        StatusDone,
		Filename:      filename,
		Buffer:        uploadSink.Output(),
		Stopped:       stopped,
		Samples:       source.Samples(),
		FramesDecoded: decodeStage.Frames(),
		FramesEncoded: encodeStage.Frames(),
		Chunks:        encodeStage.Chunks(),
		Segments:      remuxStage.Segments(),
		Containers:    remuxStage.Containers(),
		Flushes:       uploadSink.Flushes(),
		Bytes:         uploadSink.Bytes(),
		Duration:      elapsed,
	}
	if renderStage != nil {
		done.FramesRendered = renderStage.Rendered()
		done.RenderDrops = renderStage.Dropped()
	}

	if stopped {
		metrics.JobsTotal.WithLabelValues("stopped").Inc()
		o.logger.Info("Stopped early after %d frames", done.FramesEncoded)
	} else {
		metrics.JobsTotal.WithLabelValues(StatusDone).Inc()
	}
	o.logger.Info("Output uploaded as %s: %d bytes in %d units", filename, done.Bytes, done.Flushes)
	return done, nil
}

// OutputFilename derives the output name from the input name:
// "<basename>-<label>.webm", where label defaults to "<height>p".
func OutputFilename(name, label string, height int) string {
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = "output"
	}
	if label == "" {
		label = fmt.Sprintf("%dp", height)
	}
	return base + "-" + label + ".webm"
}

// describe names the failure kind for the log.
func describe(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrUnsupportedConfig):
		return l10n.F("unsupported configuration (%s)", err)
	case errors.Is(err, pipeline.ErrCodecFailure):
		return l10n.F("codec failure (%s)", err)
	case errors.Is(err, pipeline.ErrRemuxState):
		return l10n.F("container error (%s)", err)
	case errors.Is(err, pipeline.ErrUploadFailure):
		return l10n.F("upload failure (%s)", err)
	case errors.Is(err, context.Canceled):
		return l10n.T("cancelled")
	}
	return err.Error()
}
