// Package version executes and returns the version string of the running
// boundary binary. Values are injected at link time.
package version

import "fmt"

// The value of these vars are set through linker options.
var gitCommit = "Local build"
var buildDate = "Moments ago"
var gitTag = "Unknown"

// SemanticVersion returns the bare semantic version of the build.
func SemanticVersion() string {
	return gitTag
}

// Version returns the full version string of the running binary.
func Version() string {
	return fmt.Sprintf("%s/%s, at commit %s", gitTag, buildDate, gitCommit)
}
