package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage metrics
var (
	SamplesDemuxed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webmshrink_samples_demuxed_total",
			Help: "Total number of samples read from input containers",
		},
	)

	FramesDecoded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webmshrink_frames_decoded_total",
			Help: "Total number of frames emitted by the decode stage",
		},
	)

	FramesEncoded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webmshrink_frames_encoded_total",
			Help: "Total number of frames submitted to the encoder",
		},
	)

	ChunksForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webmshrink_chunks_forwarded_total",
			Help: "Total number of encoded chunks forwarded by the render stage",
		},
	)

	SegmentsMuxed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webmshrink_segments_muxed_total",
			Help: "Total number of container segments produced",
		},
	)

	MuxRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webmshrink_mux_restarts_total",
			Help: "Total number of containers restarted after a format change",
		},
	)
)

// Render metrics
var (
	RenderFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webmshrink_render_failures_total",
			Help: "Total number of chunks that could not be rendered",
		},
	)

	RenderDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webmshrink_render_drops_total",
			Help: "Total number of chunks skipped because the render queue was full",
		},
	)
)

// Upload metrics
var (
	UploadFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webmshrink_upload_flushes_total",
			Help: "Total number of upload flushes",
		},
		[]string{"status"},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webmshrink_upload_bytes_total",
			Help: "Total number of bytes handed to the upload transport",
		},
	)

	UploadFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webmshrink_upload_flush_duration_seconds",
			Help:    "Upload flush duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webmshrink_jobs_total",
			Help: "Total number of finished transcode jobs",
		},
		[]string{"status"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webmshrink_job_duration_seconds",
			Help:    "Transcode job duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)
)
