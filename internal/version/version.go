package version

import "fmt"

// Set via ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String is the one-line version banner of the upsell binary.
func String() string {
	return fmt.Sprintf("upsell %s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}
