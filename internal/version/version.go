// Package version reports build information injected via ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X github.com/ethpandaops/casefeed/internal/version.Release=...".
var (
	Release   = "dev"
	GitCommit = "unknown"
	GOOS      = runtime.GOOS
	GOARCH    = runtime.GOARCH
)

// Full returns "release (commit: sha)".
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Release, GitCommit)
}

// FullWithPlatform appends the build platform to Full.
func FullWithPlatform() string {
	return fmt.Sprintf("%s (commit: %s, %s/%s)", Release, GitCommit, GOOS, GOARCH)
}

// UserAgent is sent on outbound HTTP requests.
func UserAgent() string {
	return "casefeed/" + Release
}
