package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "pagebaker"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	renderDuration   *prom.HistogramVec
	pagesBuilt       *prom.CounterVec
	pagesUnbuilt     *prom.CounterVec
	buildsSkipped    *prom.CounterVec
	artifactsSame    prom.Counter
	propagationDepth prom.Histogram
	runs             *prom.CounterVec
	queueMessages    *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the metrics on reg. A nil reg gets a
// private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		renderDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Duration of page renders through the serving path",
			Buckets:   prom.DefBuckets,
		}, []string{"result"}),
		pagesBuilt: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "pages_built_total",
			Help:      "Pages rendered and written to the output directory",
		}, []string{"type"}),
		pagesUnbuilt: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "pages_unbuilt_total",
			Help:      "Static artifacts removed from the output directory",
		}, []string{"type"}),
		buildsSkipped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "builds_skipped_total",
			Help:      "Builds skipped because the page was already built in the same run",
		}, []string{"type"}),
		artifactsSame: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_unchanged_total",
			Help:      "Artifact writes skipped because the content fingerprint did not change",
		}),
		propagationDepth: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "propagation_depth",
			Help:      "Ancestors visited per propagation",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		runs: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Bake runs by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		queueMessages: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "Queue messages processed by action and outcome",
		}, []string{"action", "outcome"}),
	}
	reg.MustRegister(pr.renderDuration, pr.pagesBuilt, pr.pagesUnbuilt, pr.buildsSkipped,
		pr.artifactsSame, pr.propagationDepth, pr.runs, pr.queueMessages)
	return pr
}

func (p *PrometheusRecorder) ObserveRenderDuration(d time.Duration, success bool) {
	res := "failed"
	if success {
		res = "success"
	}
	p.renderDuration.WithLabelValues(res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPageBuilt(pageType string) {
	p.pagesBuilt.WithLabelValues(pageType).Inc()
}

func (p *PrometheusRecorder) IncPageUnbuilt(pageType string) {
	p.pagesUnbuilt.WithLabelValues(pageType).Inc()
}

func (p *PrometheusRecorder) IncBuildSkipped(pageType string) {
	p.buildsSkipped.WithLabelValues(pageType).Inc()
}

func (p *PrometheusRecorder) IncArtifactUnchanged() {
	p.artifactsSame.Inc()
}

func (p *PrometheusRecorder) ObservePropagationDepth(depth int) {
	p.propagationDepth.Observe(float64(depth))
}

func (p *PrometheusRecorder) IncRun(trigger, outcome string) {
	p.runs.WithLabelValues(trigger, outcome).Inc()
}

func (p *PrometheusRecorder) IncQueueMessage(action, outcome string) {
	p.queueMessages.WithLabelValues(action, outcome).Inc()
}
