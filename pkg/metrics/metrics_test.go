package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStageMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"SamplesDemuxed", SamplesDemuxed},
		{"FramesDecoded", FramesDecoded},
		{"FramesEncoded", FramesEncoded},
		{"ChunksForwarded", ChunksForwarded},
		{"SegmentsMuxed", SegmentsMuxed},
		{"MuxRestarts", MuxRestarts},
		{"RenderFailures", RenderFailures},
		{"RenderDrops", RenderDrops},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestUploadFlushesByStatus(t *testing.T) {
	before := testutil.ToFloat64(UploadFlushesTotal.WithLabelValues("ok"))
	UploadFlushesTotal.WithLabelValues("ok").Inc()
	after := testutil.ToFloat64(UploadFlushesTotal.WithLabelValues("ok"))

	if after-before != 1 {
		t.Errorf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestJobsByStatus(t *testing.T) {
	for _, status := range []string{"done", "stopped", "error"} {
		t.Run(status, func(t *testing.T) {
			before := testutil.ToFloat64(JobsTotal.WithLabelValues(status))
			JobsTotal.WithLabelValues(status).Inc()
			if got := testutil.ToFloat64(JobsTotal.WithLabelValues(status)); got != before+1 {
				t.Errorf("expected %v, got %v", before+1, got)
			}
		})
	}
}

func TestHistogramsCollect(t *testing.T) {
	UploadFlushDuration.Observe(0.2)
	JobDuration.Observe(3)

	if n := testutil.CollectAndCount(UploadFlushDuration); n != 1 {
		t.Errorf("expected 1 upload flush duration series, got %d", n)
	}
	if n := testutil.CollectAndCount(JobDuration); n != 1 {
		t.Errorf("expected 1 job duration series, got %d", n)
	}
}
