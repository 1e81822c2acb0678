package config

import (
	"log/slog"
	"strings"
)

// QueueMode selects synchronous or background baking.
type QueueMode string

const (
	QueueModeSync  QueueMode = "sync"
	QueueModeLocal QueueMode = "local"
	QueueModeNATS  QueueMode = "nats"
)

// RetryBackoffMode is the worker backoff strategy.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// LogLevel enumerates supported logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// SlogLevel maps l onto slog; unknown levels are info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat enumerates supported log output formats.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// enum folds raw onto one of the allowed values. ok is false when raw is set
// but matches none of them.
func enum[T ~string](raw T, allowed ...T) (T, bool) {
	cleaned := T(strings.ToLower(strings.TrimSpace(string(raw))))
	if cleaned == "" {
		return "", true
	}
	for _, a := range allowed {
		if cleaned == a {
			return a, true
		}
	}
	return cleaned, false
}
