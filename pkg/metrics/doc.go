// Package metrics provides Prometheus instrumentation for webmshrink.
//
// All metrics are prefixed with "webmshrink_" and registered with the default
// registry on package initialization. The CLI exposes them over HTTP when a
// metrics address is configured.
//
// # Metric Categories
//
// ## Stage Metrics
//
// Count the items flowing through each pipeline stage:
//   - SamplesDemuxed: samples read from the input container
//   - FramesDecoded: frames emitted by the decode stage
//   - FramesEncoded: frames submitted to the encoder
//   - ChunksForwarded: chunks forwarded by the tee/render stage
//   - SegmentsMuxed: container segments produced by the remux stage
//   - MuxRestarts: containers restarted after a mid-stream format change
//
// ## Render Metrics
//
// Rendering is best effort; these track what it skipped:
//   - RenderFailures: chunks that failed to decode or draw
//   - RenderDrops: chunks skipped because the render queue was full
//
// ## Upload Metrics
//
//   - UploadFlushesTotal: flushes by status ("ok", "error")
//   - UploadBytesTotal: bytes handed to the transport
//   - UploadFlushDuration: histogram of flush latency
//
// ## Job Metrics
//
//   - JobsTotal: finished jobs by status ("done", "stopped", "error")
//   - JobDuration: histogram of job wall time
package metrics
