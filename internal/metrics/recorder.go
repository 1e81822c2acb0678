package metrics

import "time"

// Outcome labels for runs and queue messages.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeRetried = "retried"
	OutcomeDropped = "dropped"
)

// Recorder defines observability hooks for bake runs.
type Recorder interface {
	ObserveRenderDuration(d time.Duration, success bool)
	IncPageBuilt(pageType string)
	IncPageUnbuilt(pageType string)
	IncBuildSkipped(pageType string)
	IncArtifactUnchanged()
	ObservePropagationDepth(depth int)
	IncRun(trigger, outcome string)
	IncQueueMessage(action, outcome string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRenderDuration(time.Duration, bool) {}
func (NoopRecorder) IncPageBuilt(string)                       {}
func (NoopRecorder) IncPageUnbuilt(string)                     {}
func (NoopRecorder) IncBuildSkipped(string)                    {}
func (NoopRecorder) IncArtifactUnchanged()                     {}
func (NoopRecorder) ObservePropagationDepth(int)               {}
func (NoopRecorder) IncRun(string, string)                     {}
func (NoopRecorder) IncQueueMessage(string, string)            {}
