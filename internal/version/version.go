// Package version carries build metadata, set at link time with
// -ldflags "-X github.com/banshee-data/mvlm/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for "mvlm version".
func String() string {
	return fmt.Sprintf("mvlm %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
