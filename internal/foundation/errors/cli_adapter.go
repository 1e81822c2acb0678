package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// CLIErrorAdapter handles error presentation and exit code determination for the CLI.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	c, ok := AsClassified(err)
	if !ok {
		return 1
	}
	switch c.Category() {
	case CategoryValidation:
		return 2 // Invalid usage
	case CategoryNotFound:
		return 4
	case CategoryConfig:
		return 7
	case CategoryStore, CategoryEventStore, CategoryQueue:
		return 8 // External system error
	case CategoryRender, CategoryBuild, CategoryFileSystem:
		return 11
	case CategoryDaemon, CategoryRuntime:
		return 12
	case CategoryInternal:
		return 10
	default:
		return 1
	}
}

// FormatError formats an error for display. Classified errors show only their
// message unless verbose output was requested.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	c, ok := AsClassified(err)
	if !ok || a.verbose {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Error: %s (use -v for details)", c.Message())
}

// Report logs the error and writes the user-facing message to w. It returns the exit code;
// the caller decides when to exit.
func (a *CLIErrorAdapter) Report(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	if c, ok := AsClassified(err); ok {
		if a.verbose || c.IsFatal() {
			attrs := []slog.Attr{slog.String("category", string(c.Category()))}
			if c.CanRetry() {
				attrs = append(attrs, slog.Bool("retryable", true))
			}
			a.logger.LogAttrs(context.Background(), slogLevelFromSeverity(c.Severity()), c.Message(), attrs...)
		}
	} else {
		a.logger.Error("Unclassified error", "error", err)
	}
	_, _ = fmt.Fprintln(w, a.FormatError(err))
	return a.ExitCodeFor(err)
}
