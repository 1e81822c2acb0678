// Package errors provides the classified error type used across pagebaker.
//
// A ClassifiedError carries a category (what failed), a severity (how bad) and a
// retry strategy (whether a queue worker may try again). Adapters translate the
// classification into HTTP status codes for the daemon API and exit codes for
// the CLI.
//
// Construction goes through the fluent builder:
//
//	err := errors.RenderError("page render failed").
//		WithCause(cause).
//		WithContext("url", "/blog/").
//		Build()
package errors
