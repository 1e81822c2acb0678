// Package metrics provides the observability hooks for baking.
//
// Components receive a Recorder through their constructors and default to
// NoopRecorder, so no caller needs nil checks. The daemon swaps in a
// PrometheusRecorder and exposes it through HTTPHandler.
package metrics
