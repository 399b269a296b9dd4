package metrics

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelsString(t *testing.T) {
	assert.Equal(t, "", Labels(nil).String())
	assert.Equal(t, `{a="1",kind="timeout"}`, Labels{"kind": "timeout", "a": "1"}.String())
}

func TestRegistryReturnsExisting(t *testing.T) {
	r := NewRegistry("imsync")
	a := r.Counter("x_total", "x", nil)
	b := r.Counter("x_total", "x", nil)
	assert.Same(t, a, b)
	assert.Equal(t, "imsync_x_total", a.Name())

	l1 := r.Counter("x_total", "x", Labels{"kind": "a"})
	assert.NotSame(t, a, l1)

	assert.Same(t, r.Histogram("d", "d", nil), r.Histogram("d", "d", nil))
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry("")
	h := r.Histogram("lat", "latency", []float64{1, 0.25})
	h.Observe(0.125)
	h.Observe(0.25)
	h.Observe(0.5)
	h.Observe(3)

	assert.Equal(t, uint64(4), h.Count())
	assert.Equal(t, 0.96875, h.Mean())

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	want := "# HELP lat latency\n# TYPE lat histogram\n" +
		"lat_bucket{le=\"0.25\"} 2\n" +
		"lat_bucket{le=\"1\"} 3\n" +
		"lat_bucket{le=\"+Inf\"} 4\n" +
		"lat_sum 3.875\n" +
		"lat_count 4\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("exposition mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyHistogramMean(t *testing.T) {
	assert.Zero(t, newHistogram("h", "", nil).Mean())
}

func TestSync(t *testing.T) {
	s := NewSync(nil)
	s.Triggers.Inc()
	s.Triggers.Inc()
	s.ModeChanges.Inc()
	s.Failure("timeout")
	s.Failure("timeout")
	s.Failure("rejected")
	s.Time(func() { time.Sleep(time.Millisecond) })

	assert.Equal(t, uint64(2), s.Failures("timeout"))
	assert.Equal(t, uint64(0), s.Failures("disconnected"))

	want := map[string]uint64{
		"imsync_triggers_total":                      2,
		"imsync_mode_changes_total":                  1,
		"imsync_context_resets_total":                0,
		"imsync_reconnects_total":                    0,
		`imsync_failures_total{kind="timeout"}`:      2,
		`imsync_failures_total{kind="rejected"}`:     1,
		`imsync_failures_total{kind="disconnected"}`: 0,
		"imsync_action_duration_seconds_count":       1,
	}
	if diff := cmp.Diff(want, s.Registry().Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	var buf bytes.Buffer
	require.NoError(t, s.Registry().WritePrometheus(&buf))
	assert.Contains(t, buf.String(), "# TYPE imsync_failures_total counter\n")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("# HELP imsync_failures_total")))
}
