package version

import "fmt"

// Build metadata, stamped through -ldflags "-X mmledger/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("mmledger %s (commit %s, built %s)", Version, Commit, BuildDate)
}
