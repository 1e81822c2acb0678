// Package version holds build metadata set through ldflags:
//
//	go build -ldflags "-X git.home.luguber.info/inful/pagebaker/internal/version.Version=v1.0.0"
package version

import (
	"fmt"
	"runtime"
)

// Version is the release version.
var Version = "unknown"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version line printed by `pagebaker version`.
func String() string {
	return fmt.Sprintf("pagebaker %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, runtime.Version())
}
