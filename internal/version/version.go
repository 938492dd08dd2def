// Package version carries build metadata injected via ldflags:
//
//	-X github.com/HerbHall/accumulator/internal/version.Version=1.2.0
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns the one-line string printed by -version.
func Info() string {
	return fmt.Sprintf("accumulator %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildDate, runtime.Version())
}

// Short returns just the version (e.g. "0.3.1" or "dev").
func Short() string {
	return Version
}

// UserAgent is sent on every outbound device request.
func UserAgent() string {
	return "accumulator/" + Version
}

// Map returns the build metadata for the health endpoint.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}
