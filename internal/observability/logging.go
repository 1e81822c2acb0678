// Package observability carries per-request and per-run log context.
//
// Values stored with WithRun or WithRequestID are added to every record logged
// through a ContextHandler with that context, so deep call sites need not
// thread run ids into each log call.
package observability

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/pagebaker/internal/logfields"
)

// LogContext holds structured logging context information.
type LogContext struct {
	RunID     string
	Trigger   string
	RequestID string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithRun adds a bake run id and trigger to the context.
func WithRun(ctx context.Context, runID, trigger string) context.Context {
	lc := extractLogContext(ctx)
	lc.RunID = runID
	lc.Trigger = trigger
	return context.WithValue(ctx, logContextKey, lc)
}

// WithRequestID adds an HTTP request id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	lc := extractLogContext(ctx)
	lc.RequestID = requestID
	return context.WithValue(ctx, logContextKey, lc)
}

// GetContext returns the structured log context from the provided context.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}

func extractLogContext(ctx context.Context) LogContext {
	if ctx == nil {
		return LogContext{}
	}
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

func getLogAttrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	var attrs []slog.Attr
	if lc.RunID != "" {
		attrs = append(attrs, logfields.RunID(lc.RunID))
	}
	if lc.Trigger != "" {
		attrs = append(attrs, logfields.Trigger(lc.Trigger))
	}
	if lc.RequestID != "" {
		attrs = append(attrs, logfields.RequestID(lc.RequestID))
	}
	return attrs
}

// ContextHandler decorates records with the LogContext of the logging call's
// context. Attributes the caller already set are not duplicated.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler wraps h.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := getLogAttrs(ctx)
	if len(attrs) > 0 {
		present := make(map[string]bool, r.NumAttrs())
		r.Attrs(func(a slog.Attr) bool {
			present[a.Key] = true
			return true
		})
		for _, a := range attrs {
			if !present[a.Key] {
				r.AddAttrs(a)
			}
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}
