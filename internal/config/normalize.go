package config

import (
	"fmt"
	"strings"
)

// Normalize case-folds enumerations and trims list entries. It returns a
// warning for each value it had to replace. Unknown queue modes are left for
// Validate to reject.
func Normalize(cfg *Config) []string {
	var warnings []string

	cfg.Queue.Mode, _ = enum(cfg.Queue.Mode, QueueModeSync, QueueModeLocal, QueueModeNATS)
	if m, ok := enum(cfg.Queue.Retry.Backoff, RetryBackoffFixed, RetryBackoffLinear, RetryBackoffExponential); ok {
		cfg.Queue.Retry.Backoff = m
	} else {
		warnings = append(warnings, fmt.Sprintf("queue.retry.backoff %q is unknown, using %q", cfg.Queue.Retry.Backoff, RetryBackoffLinear))
		cfg.Queue.Retry.Backoff = RetryBackoffLinear
	}
	if l, ok := enum(cfg.Monitoring.Logging.Level, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError); ok {
		cfg.Monitoring.Logging.Level = l
	} else {
		warnings = append(warnings, fmt.Sprintf("monitoring.logging.level %q is unknown, using %q", cfg.Monitoring.Logging.Level, LogLevelInfo))
		cfg.Monitoring.Logging.Level = LogLevelInfo
	}
	if f, ok := enum(cfg.Monitoring.Logging.Format, LogFormatText, LogFormatJSON); ok {
		cfg.Monitoring.Logging.Format = f
	} else {
		warnings = append(warnings, fmt.Sprintf("monitoring.logging.format %q is unknown, using %q", cfg.Monitoring.Logging.Format, LogFormatText))
		cfg.Monitoring.Logging.Format = LogFormatText
	}

	views := cfg.Bakery.Views[:0]
	seen := make(map[string]bool)
	for _, v := range cfg.Bakery.Views {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		views = append(views, v)
	}
	cfg.Bakery.Views = views

	cfg.Site.Host = strings.ToLower(strings.TrimSpace(cfg.Site.Host))
	for i := range cfg.Site.Sites {
		cfg.Site.Sites[i].Hostname = strings.ToLower(strings.TrimSpace(cfg.Site.Sites[i].Hostname))
	}
	return warnings
}
