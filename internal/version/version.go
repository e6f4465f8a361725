// Package version holds build-time version metadata for the CLI.
package version

import "fmt"

// Version and Commit are overridden at build time via -ldflags.
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// FullVersion returns the string cobra prints for --version.
func FullVersion() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
