package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_Counters(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.IncPageBuilt("blog")
	r.IncPageBuilt("blog")
	r.IncPageUnbuilt("blog")
	r.IncBuildSkipped("section")
	r.IncRun("publish", OutcomeSuccess)
	r.IncQueueMessage("unpublish", OutcomeRetried)
	r.IncArtifactUnchanged()
	r.ObserveRenderDuration(20*time.Millisecond, true)
	r.ObservePropagationDepth(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				values[mf.GetName()] += c.GetValue()
			}
		}
	}

	assert.InDelta(t, 2, values["pagebaker_pages_built_total"], 0)
	assert.InDelta(t, 1, values["pagebaker_pages_unbuilt_total"], 0)
	assert.InDelta(t, 1, values["pagebaker_builds_skipped_total"], 0)
	assert.InDelta(t, 1, values["pagebaker_runs_total"], 0)
	assert.InDelta(t, 1, values["pagebaker_queue_messages_total"], 0)
	assert.InDelta(t, 1, values["pagebaker_artifacts_unchanged_total"], 0)
}

func TestHTTPHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := NewRegistry()
	r := NewPrometheusRecorder(reg)
	r.IncPageBuilt("blog")

	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `pagebaker_pages_built_total{type="blog"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncPageBuilt("x")
	r.ObserveRenderDuration(time.Second, false)
}
