// Package version holds ccwc's build information.
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags, e.g.
//
//	-X github.com/ethpandaops/ccwc/internal/version.Release=v1.2.0
var (
	Release   = "dev"
	GitCommit = "unknown"
	GOOS      = runtime.GOOS
	GOARCH    = runtime.GOARCH
)

// Full returns the version string in the format "release (commit)".
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Release, GitCommit)
}

// FullWithPlatform returns the version string with platform and Go
// toolchain information.
func FullWithPlatform() string {
	return fmt.Sprintf(
		"ccwc %s (commit: %s, %s/%s, %s)",
		Release, GitCommit, GOOS, GOARCH, runtime.Version(),
	)
}
