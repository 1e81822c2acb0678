package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyTrigger    = "trigger"
	KeyPage       = "page"
	KeyPageType   = "page_type"
	KeyURL        = "url"
	KeyAction     = "action"
	KeyMessageID  = "message_id"
	KeyWorker     = "worker"
	KeyAttempt    = "attempt"
	KeyDurationMS = "duration_ms"
	KeyView       = "view"
	KeyError      = "error"
	KeyRequestID  = "request_id"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Trigger(t string) slog.Attr      { return slog.String(KeyTrigger, t) }
func Page(key string) slog.Attr       { return slog.String(KeyPage, key) }
func PageType(t string) slog.Attr     { return slog.String(KeyPageType, t) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Action(a string) slog.Attr       { return slog.String(KeyAction, a) }
func MessageID(id string) slog.Attr   { return slog.String(KeyMessageID, id) }
func Worker(name string) slog.Attr    { return slog.String(KeyWorker, name) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func View(name string) slog.Attr      { return slog.String(KeyView, name) }
func RequestID(id string) slog.Attr   { return slog.String(KeyRequestID, id) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
